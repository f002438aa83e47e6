package stream

import (
	"sync"
)

// clientBufferChunks bounds each attached client's chunk buffer. A client
// that cannot keep up loses its oldest chunks, never the whole session.
const clientBufferChunks = 32

type pushSession struct {
	mu       sync.Mutex
	clients  map[chan []byte]struct{}
	closed   bool
	bytesOut int64 // bytes broadcast since the last TakeBytes
}

// PushHub distributes MPEG-TS chunks from one push-mode process to any
// number of attached clients.
type PushHub struct {
	mu       sync.RWMutex
	sessions map[string]*pushSession
}

// NewPushHub creates an empty hub.
func NewPushHub() *PushHub {
	return &PushHub{sessions: make(map[string]*pushSession)}
}

// Open starts distributing chunks from source until the source closes or
// the session is closed.
func (h *PushHub) Open(sessionKey string, source <-chan []byte) {
	ps := &pushSession{clients: make(map[chan []byte]struct{})}

	h.mu.Lock()
	h.sessions[sessionKey] = ps
	h.mu.Unlock()

	go func() {
		for chunk := range source {
			ps.broadcast(chunk)
		}
		h.Close(sessionKey)
	}()
}

func (ps *pushSession) broadcast(chunk []byte) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return
	}
	ps.bytesOut += int64(len(chunk))
	for ch := range ps.clients {
		select {
		case ch <- chunk:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- chunk:
			default:
			}
		}
	}
}

// Attach registers a client and returns its chunk channel plus a detach
// function. Returns false when the session has no push output.
func (h *PushHub) Attach(sessionKey string) (<-chan []byte, func(), bool) {
	h.mu.RLock()
	ps, ok := h.sessions[sessionKey]
	h.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}

	ch := make(chan []byte, clientBufferChunks)

	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil, nil, false
	}
	ps.clients[ch] = struct{}{}
	ps.mu.Unlock()

	var once sync.Once
	detach := func() {
		once.Do(func() {
			ps.mu.Lock()
			if _, present := ps.clients[ch]; present {
				delete(ps.clients, ch)
				close(ch)
			}
			ps.mu.Unlock()
		})
	}

	return ch, detach, true
}

// TakeBytes returns the bytes broadcast since the previous call and resets
// the counter. Unknown sessions report zero.
func (h *PushHub) TakeBytes(sessionKey string) int64 {
	h.mu.RLock()
	ps, ok := h.sessions[sessionKey]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	n := ps.bytesOut
	ps.bytesOut = 0
	return n
}

// Close tears the session down and closes every client channel.
func (h *PushHub) Close(sessionKey string) {
	h.mu.Lock()
	ps, ok := h.sessions[sessionKey]
	if ok {
		delete(h.sessions, sessionKey)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return
	}
	ps.closed = true
	for ch := range ps.clients {
		close(ch)
	}
	ps.clients = make(map[chan []byte]struct{})
}
