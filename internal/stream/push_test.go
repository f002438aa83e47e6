package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushHubDelivery(t *testing.T) {
	h := NewPushHub()
	source := make(chan []byte, 4)
	h.Open("s1", source)

	chunks, detach, ok := h.Attach("s1")
	assert.True(t, ok)
	defer detach()

	source <- []byte("chunk-1")

	select {
	case chunk := <-chunks:
		assert.Equal(t, []byte("chunk-1"), chunk)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk")
	}
}

func TestPushHubAttachUnknownSession(t *testing.T) {
	h := NewPushHub()
	_, _, ok := h.Attach("missing")
	assert.False(t, ok)
}

func TestPushHubSourceCloseClosesClients(t *testing.T) {
	h := NewPushHub()
	source := make(chan []byte)
	h.Open("s1", source)

	chunks, detach, ok := h.Attach("s1")
	assert.True(t, ok)
	defer detach()

	close(source)

	select {
	case _, open := <-chunks:
		assert.False(t, open, "client channel should close when the source ends")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}

	// Session is gone; new attaches fail.
	assert.Eventually(t, func() bool {
		_, _, ok := h.Attach("s1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestPushHubSlowClientDropsOldest(t *testing.T) {
	h := NewPushHub()
	source := make(chan []byte)
	h.Open("s1", source)

	chunks, detach, ok := h.Attach("s1")
	assert.True(t, ok)
	defer detach()

	total := clientBufferChunks + 8
	for i := 0; i < total; i++ {
		source <- []byte{byte(i)}
	}
	close(source)

	// Wait for the pump to finish before draining; a receive while chunks
	// are still being broadcast would free a slot and prevent a drop.
	require.Eventually(t, func() bool {
		_, _, attached := h.Attach("s1")
		return !attached
	}, time.Second, time.Millisecond)

	var last []byte
	received := 0
	for chunk := range chunks {
		received++
		last = chunk
	}

	assert.Equal(t, clientBufferChunks, received)
	assert.Equal(t, []byte{byte(total - 1)}, last)
}

func TestPushHubTakeBytes(t *testing.T) {
	h := NewPushHub()
	source := make(chan []byte, 4)
	h.Open("s1", source)

	chunks, detach, ok := h.Attach("s1")
	assert.True(t, ok)
	defer detach()

	source <- make([]byte, 100)
	source <- make([]byte, 28)
	for i := 0; i < 2; i++ {
		select {
		case <-chunks:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for chunk")
		}
	}

	assert.Equal(t, int64(128), h.TakeBytes("s1"))
	assert.Equal(t, int64(0), h.TakeBytes("s1"), "counter resets after a sample")
	assert.Equal(t, int64(0), h.TakeBytes("missing"))
}

func TestPushHubDetachIdempotent(t *testing.T) {
	h := NewPushHub()
	source := make(chan []byte)
	h.Open("s1", source)

	_, detach, ok := h.Attach("s1")
	assert.True(t, ok)

	detach()
	detach()

	h.Close("s1")
}
