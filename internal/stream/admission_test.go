package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdmitAndDismiss(t *testing.T) {
	tr := NewAdmissionTracker()
	tr.Open("s1", 2)

	result, newly, err := tr.Admit("s1", "alice", "10.0.0.1")
	assert.NoError(t, err)
	assert.True(t, newly)
	assert.True(t, result.Accepted)
	assert.Equal(t, 1, result.CurrentCount)

	_, remaining, removed := tr.Dismiss("s1", "alice")
	assert.True(t, removed)
	assert.Equal(t, 0, remaining)

	// Dismissing again is a no-op.
	_, _, removed = tr.Dismiss("s1", "alice")
	assert.False(t, removed)
}

func TestAdmitDuplicateIdentity(t *testing.T) {
	tr := NewAdmissionTracker()
	tr.Open("s1", 2)

	_, newly, err := tr.Admit("s1", "alice", "10.0.0.1")
	assert.NoError(t, err)
	assert.True(t, newly)

	// Same identity again: accepted but not counted twice.
	result, newly, err := tr.Admit("s1", "alice", "10.0.0.2")
	assert.NoError(t, err)
	assert.False(t, newly)
	assert.True(t, result.Accepted)
	assert.Equal(t, 1, result.CurrentCount)
}

func TestAdmitCapacityExceeded(t *testing.T) {
	tr := NewAdmissionTracker()
	tr.Open("s1", 1)

	_, _, err := tr.Admit("s1", "alice", "")
	assert.NoError(t, err)

	result, newly, err := tr.Admit("s1", "bob", "")
	assert.False(t, newly)
	assert.False(t, result.Accepted)
	assert.True(t, IsKind(err, KindCapacityExceeded))
}

func TestAdmitConcurrentNeverOvershoots(t *testing.T) {
	const capacity = 5
	tr := NewAdmissionTracker()
	tr.Open("s1", capacity)

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, newly, err := tr.Admit("s1", fmt.Sprintf("viewer-%d", n), "")
			if err == nil && newly {
				atomic.AddInt32(&admitted, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(capacity), admitted)
	assert.Equal(t, capacity, tr.Count("s1"))
}

func TestSetCapacityKeepsAdmittedViewers(t *testing.T) {
	tr := NewAdmissionTracker()
	tr.Open("s1", 3)

	for _, id := range []string{"a", "b", "c"} {
		_, _, err := tr.Admit("s1", id, "")
		assert.NoError(t, err)
	}

	// Lowering below the current count blocks new joins only.
	tr.SetCapacity("s1", 1)
	assert.Equal(t, 3, tr.Count("s1"))

	_, _, err := tr.Admit("s1", "d", "")
	assert.True(t, IsKind(err, KindCapacityExceeded))
}

func TestAdmitUnknownSession(t *testing.T) {
	tr := NewAdmissionTracker()
	_, _, err := tr.Admit("missing", "alice", "")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestCloseReturnsRemainingViewers(t *testing.T) {
	tr := NewAdmissionTracker()
	tr.Open("s1", 5)
	tr.Admit("s1", "a", "")
	tr.Admit("s1", "b", "")

	viewers := tr.Close("s1")
	assert.Len(t, viewers, 2)

	assert.Equal(t, 0, tr.Count("s1"))
	_, _, err := tr.Admit("s1", "c", "")
	assert.True(t, IsKind(err, KindNotFound))
}
