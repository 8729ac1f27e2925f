package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "payment.events", cfg.OutTopic)
	assert.Equal(t, int32(10), cfg.PGMaxConns)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.RelayInterval)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers())
	assert.False(t, cfg.ManualCapture)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "payments.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
out_topic: from-file
lock_timeout: 2s
processor_manual_capture: true
processor_action_methods: [bank_transfer, crypto]
`), 0o600))

	t.Setenv("OUT_TOPIC", "from-env")
	t.Setenv("KAFKA_ADDR", "k1:9092, k2:9092")
	t.Setenv("PG_MAX_CONNS", "25")
	t.Setenv("FRAUD_THRESHOLD", "5000")

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.OutTopic)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.True(t, cfg.ManualCapture)
	assert.Equal(t, []string{"bank_transfer", "crypto"}, cfg.ActionMethods)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers())
	assert.Equal(t, int32(25), cfg.PGMaxConns)
	assert.Equal(t, int64(5000), cfg.FraudThreshold)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("LOCK_TIMEOUT", "0s")
	_, err := Load("")
	assert.ErrorContains(t, err, "LOCK_TIMEOUT")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
