package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := map[string]struct {
		err  error
		want Kind
	}{
		"nil":              {err: nil, want: ""},
		"plain error":      {err: errors.New("boom"), want: KindInternal},
		"validation":       {err: Validation("bad amount %d", -1), want: KindValidation},
		"wrapped conflict": {err: fmt.Errorf("capture: %w", Conflict("cannot capture")), want: KindConflict},
		"not found":        {err: NotFound("payment %s not found", "x"), want: KindNotFound},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Conflict("lost race")))
	assert.True(t, IsRetryable(Unavailable(context.DeadlineExceeded, "processor timed out")))
	assert.False(t, IsRetryable(Internal(errors.New("disk"), "store failed")))
	assert.False(t, IsRetryable(Validation("bad")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestErrorUnwrap(t *testing.T) {
	err := Unavailable(context.DeadlineExceeded, "processor capture")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "processor capture")
	assert.True(t, Is(err, KindInternal))
}
