package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsStreamingBufferError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"streaming buffer message", errors.New("UPDATE or DELETE statement over table x would affect rows in the streaming buffer"), true},
		{"unrelated error", errors.New("syntax error near SELECT"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStreamingBufferError(tt.err))
		})
	}
}

func TestDeferredErrorUnwraps(t *testing.T) {
	err := NewDeferredError("upsert_card_current", errors.New("boom"))
	assert.True(t, errors.Is(err, ErrDeferred))
	assert.Contains(t, err.Error(), "upsert_card_current")
}

func TestPermanentErrorUnwraps(t *testing.T) {
	err := NewPermanentError("finalize_event", errors.New("boom"))
	assert.True(t, errors.Is(err, ErrPermanent))
	assert.Contains(t, err.Error(), "finalize_event")
}
