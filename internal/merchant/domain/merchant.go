package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// Merchant is read-only to the payment core; its lifecycle is managed elsewhere.
type Merchant struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Email              string `json:"email"`
	Active             bool   `json:"active"`
	AllowLargePayments bool   `json:"allow_large_payments"`
}

// CredentialHash is how API credentials are stored and used as cache keys;
// the raw credential never leaves the request path.
func CredentialHash(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
