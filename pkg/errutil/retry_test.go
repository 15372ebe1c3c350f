package errutil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsPermanent(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"nil", nil, false},
		{"validation", ValidationFailed("bad payload", nil), true},
		{"forbidden", Forbidden("invalid signature", nil), true},
		{"not found", NotFound("missing", nil), true},
		{"internal", Internal("store down", nil), false},
		{"timeout", Timeout("slow store", nil), false},
		{"unavailable", Unavailable("down", nil), false},
		{"plain error", errors.New("boom"), false},
		{"wrapped validation", fmt.Errorf("evaluate: %w", ValidationFailed("bad", nil)), true},
		{"context canceled", context.Canceled, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.permanent, IsPermanent(tc.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	require.False(t, IsTransient(nil))
	require.True(t, IsTransient(Internal("store down", nil)))
	require.True(t, IsTransient(context.DeadlineExceeded))
	require.False(t, IsTransient(ValidationFailed("bad", nil)))
}
