// Package errors defines the sentinel errors shared by the build and
// prediction paths, and an AppError type that attaches a detail message to a
// sentinel while keeping it matchable with errors.Is.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfOrderInput   = errors.New("input not sorted by row id")
	ErrMissingOutcomes   = errors.New("outcomes not loaded")
	ErrInvalidIndexState = errors.New("invalid index state")
	ErrPredictionTimeout = errors.New("prediction drain timed out")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternal          = errors.New("internal error")
)

type AppError struct {
	Err     error
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
	}
}

func Newf(sentinel error, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsFatal reports whether err aborts the current build or ingestion call.
// A prediction timeout is not fatal: results gathered before the deadline
// are still valid.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrPredictionTimeout):
		return false
	default:
		return true
	}
}
