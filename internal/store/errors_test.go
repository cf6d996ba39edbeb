package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "generic error", err: errors.New("some error"), expected: false},
		{name: "ErrNotFound", err: ErrNotFound, expected: true},
		{name: "wrapped ErrNotFound", err: fmt.Errorf("lookup: %w", ErrNotFound), expected: true},
		{name: "ErrTaskNotFound", err: ErrTaskNotFound, expected: true},
		{name: "ErrApplicationNotFound", err: ErrApplicationNotFound, expected: true},
		{name: "ErrClaimNotFound", err: ErrClaimNotFound, expected: true},
		{name: "ErrAnalysisNotFound", err: ErrAnalysisNotFound, expected: true},
		{name: "wrapped ErrReportNotFound", err: fmt.Errorf("get report: %w", ErrReportNotFound), expected: true},
		{name: "ErrDuplicate", err: ErrDuplicate, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsNotFoundError(tt.err))
		})
	}
}

func TestIsDuplicateError(t *testing.T) {
	t.Parallel()

	assert.True(t, IsDuplicateError(ErrDuplicate))
	assert.True(t, IsDuplicateError(ErrTaskExists))
	assert.True(t, IsDuplicateError(fmt.Errorf("create: %w", ErrTaskExists)))
	assert.False(t, IsDuplicateError(ErrNotFound))
	assert.False(t, IsDuplicateError(nil))
}

func TestIsTransientError(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTransientError(fmt.Errorf("ping: %w", ErrTransientInfra)))
	assert.False(t, IsTransientError(ErrNotFound))
}
