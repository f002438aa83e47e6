package stream

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drbilel35-sudo/cctv-backend/pkg/models"
)

func TestRegistryReserve(t *testing.T) {
	r := NewRegistry()

	sess, created := r.reserve("cam-1", "key-1", models.SessionSettings{MaxViewers: 5})
	assert.True(t, created)
	assert.Equal(t, "key-1", sess.key)
	assert.Equal(t, models.SessionStatusStarting, sess.getStatus())

	// Second reserve for the same camera returns the existing session.
	again, created := r.reserve("cam-1", "key-other", models.SessionSettings{})
	assert.False(t, created)
	assert.Equal(t, "key-1", again.key)
	assert.Equal(t, 1, r.size())
}

func TestRegistryReserveConcurrent(t *testing.T) {
	r := NewRegistry()

	var createdCount int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created := r.reserve("cam-1", newSessionKey("cam-1"), models.SessionSettings{})
			if created {
				atomic.AddInt32(&createdCount, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), createdCount, "exactly one caller should create the session")
	assert.Equal(t, 1, r.size())
}

func TestRegistryRemoveFreesCameraSlot(t *testing.T) {
	r := NewRegistry()

	r.reserve("cam-1", "key-1", models.SessionSettings{})
	r.remove("key-1")

	_, ok := r.byCameraID("cam-1")
	assert.False(t, ok)

	// Camera can be claimed again under a new key.
	_, created := r.reserve("cam-1", "key-2", models.SessionSettings{})
	assert.True(t, created)
}

func TestRegistryRemoveUnknownKey(t *testing.T) {
	r := NewRegistry()
	r.remove("missing")
	assert.Equal(t, 0, r.size())
}

func TestRegistryActive(t *testing.T) {
	r := NewRegistry()
	r.reserve("cam-1", "key-1", models.SessionSettings{})
	r.reserve("cam-2", "key-2", models.SessionSettings{})

	assert.Len(t, r.active(), 2)
}

func TestSessionKeyFormat(t *testing.T) {
	key := newSessionKey("front door/cam #1")

	assert.Regexp(t, `^stream_[A-Za-z0-9_-]+_\d+_[a-f0-9]{8}$`, key)
	assert.True(t, sessionKeyIsSafe(key))
}

func sessionKeyIsSafe(key string) bool {
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
