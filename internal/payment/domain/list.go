package domain

import (
	"github.com/google/uuid"

	"github.com/dmehra2102/payment-orchestrator/pkg/apperr"
)

const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// ListQuery selects a page of a merchant's payments, newest first.
// StartingAfter and EndingBefore are payment ids used as cursors; at most one
// may be set.
type ListQuery struct {
	Limit         int
	StartingAfter string
	EndingBefore  string
	CustomerID    string
	Status        Status
}

type Page struct {
	Data    []Payment `json:"data"`
	HasMore bool      `json:"has_more"`
	Total   int64     `json:"total"`
}

// Normalize validates q and fills defaults.
func (q ListQuery) Normalize() (ListQuery, error) {
	if q.Limit == 0 {
		q.Limit = DefaultListLimit
	}
	if q.Limit < 0 || q.Limit > MaxListLimit {
		return q, apperr.Validation("limit must be between 1 and %d", MaxListLimit)
	}
	if q.StartingAfter != "" && q.EndingBefore != "" {
		return q, apperr.Validation("starting_after and ending_before are mutually exclusive")
	}
	for name, id := range map[string]string{
		"starting_after": q.StartingAfter,
		"ending_before":  q.EndingBefore,
		"customer":       q.CustomerID,
	} {
		if id == "" {
			continue
		}
		if _, err := uuid.Parse(id); err != nil {
			return q, apperr.Validation("%s must be a UUID", name)
		}
	}
	if q.Status != "" && !q.Status.Valid() {
		return q, apperr.Validation("unknown status %q", q.Status)
	}
	return q, nil
}
