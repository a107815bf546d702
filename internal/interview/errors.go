package interview

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyLive      = errors.New("interview is already connecting or live")
	ErrSessionCompleted = errors.New("interview already completed")
	ErrNotLive          = errors.New("interview is not live")
	ErrTextNotAllowed   = errors.New("text answers are not allowed for this interview")
	ErrEmptyText        = errors.New("text is empty")
	errSuperseded       = errors.New("connection attempt superseded")
)

// PersistenceError reports a failed write of the final transcript. The
// interview still completes locally.
type PersistenceError struct {
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist interview %s: %v", e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// EvaluationError reports a failed evaluation request.
type EvaluationError struct {
	SessionID string
	Err       error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate interview %s: %v", e.SessionID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
