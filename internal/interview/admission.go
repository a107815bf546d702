package interview

import (
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/screener/internal/records"
)

// DefaultSessionLimit is the wall-clock cap of one interview.
const DefaultSessionLimit = 30 * time.Minute

var (
	ErrRevoked          = errors.New("this interview link has been revoked")
	ErrAlreadyCompleted = errors.New("this interview has already been completed")
	ErrLinkExpired      = errors.New("this interview link has expired")
	ErrWindowElapsed    = errors.New("the interview time window has elapsed")
)

// NotYetOpenError rejects candidates who arrive before valid_from.
type NotYetOpenError struct {
	OpensAt time.Time
}

func (e *NotYetOpenError) Error() string {
	return fmt.Sprintf("this interview opens at %s", e.OpensAt.UTC().Format(time.RFC3339))
}

// Admit decides whether a candidate may enter the interview at now.
func Admit(rec records.SessionRecord, now time.Time, limit time.Duration) error {
	if limit <= 0 {
		limit = DefaultSessionLimit
	}
	switch rec.Status {
	case records.StatusRevoked:
		return ErrRevoked
	case records.StatusCompleted, records.StatusEvaluated:
		return ErrAlreadyCompleted
	}
	if rec.ValidFrom != nil && now.Before(*rec.ValidFrom) {
		return &NotYetOpenError{OpensAt: *rec.ValidFrom}
	}
	if rec.ExpiresAt != nil && now.After(*rec.ExpiresAt) {
		return ErrLinkExpired
	}
	if rec.StartedAt != nil && now.Sub(*rec.StartedAt) >= limit {
		return ErrWindowElapsed
	}
	return nil
}
