package stream

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamErrorKind(t *testing.T) {
	err := NewError(KindCapacityExceeded, "viewer capacity reached")
	assert.Equal(t, KindCapacityExceeded, Kind(err))
	assert.True(t, IsKind(err, KindCapacityExceeded))
	assert.False(t, IsKind(err, KindNotFound))
}

func TestStreamErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(KindSourceUnavailable, "camera state unavailable", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "source_unavailable")
	assert.Contains(t, err.Error(), "connection refused")

	// Kind survives another layer of wrapping.
	wrapped := fmt.Errorf("start failed: %w", err)
	assert.Equal(t, KindSourceUnavailable, Kind(wrapped))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorKind(""), Kind(errors.New("plain")))
	assert.Equal(t, ErrorKind(""), Kind(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(KindSessionRestarting, "restarting")))
	assert.False(t, IsRetryable(NewError(KindCapacityExceeded, "full")))
	assert.False(t, IsRetryable(nil))
}
