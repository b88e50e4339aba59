package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMatchesSentinel(t *testing.T) {
	err := Newf(ErrOutOfOrderInput, "row id %d at position %d after %d", 1, 3, 2)

	assert.Equal(t, "input not sorted by row id: row id 1 at position 3 after 2", err.Error())
	assert.True(t, errors.Is(err, ErrOutOfOrderInput))
	assert.False(t, errors.Is(err, ErrMissingOutcomes))

	wrapped := fmt.Errorf("loading covariates: %w", err)
	assert.True(t, errors.Is(wrapped, ErrOutOfOrderInput))

	var appErr *AppError
	assert.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, "row id 1 at position 3 after 2", appErr.Message)
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", New(ErrPredictionTimeout, "3 outstanding"), false},
		{"wrapped timeout", fmt.Errorf("collecting: %w", ErrPredictionTimeout), false},
		{"missing outcomes", ErrMissingOutcomes, true},
		{"invalid state", New(ErrInvalidIndexState, "index is finalized"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}
