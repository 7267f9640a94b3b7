package link

import (
	"context"
	"sync"
	"time"
)

// TestLink is an in-memory Link for tests. Bytes handed to Inject are
// returned by TryRecv; bytes passed to Send are recorded and, when a
// Responder is set, answered with scripted replies.
type TestLink struct {
	mu sync.Mutex

	// Responder, if set, is called for every Send. Its return value is
	// queued for TryRecv as if the peer had replied.
	Responder func(sent []byte) []byte
	// ChunkSize limits how many bytes one TryRecv returns. Zero means all.
	ChunkSize int

	inbound []byte
	sent    [][]byte
	sendErr error
	dead    bool
	closed  bool
}

// NewTestLink creates an alive TestLink.
func NewTestLink() *TestLink {
	return &TestLink{}
}

// ScriptedResponder answers each exact wire command with the mapped reply.
// Unknown commands are not answered, which lets tests exercise timeouts.
func ScriptedResponder(script map[string]string) func([]byte) []byte {
	return func(sent []byte) []byte {
		if reply, ok := script[string(sent)]; ok {
			return []byte(reply)
		}
		return nil
	}
}

func (t *TestLink) Send(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead || t.closed {
		return ErrDown
	}
	if t.sendErr != nil {
		t.dead = true
		return t.sendErr
	}
	t.sent = append(t.sent, append([]byte(nil), p...))
	if t.Responder != nil {
		t.inbound = append(t.inbound, t.Responder(p)...)
	}
	return nil
}

func (t *TestLink) TryRecv(time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead || t.closed {
		return nil, ErrDown
	}
	if len(t.inbound) == 0 {
		return nil, nil
	}
	n := len(t.inbound)
	if t.ChunkSize > 0 && n > t.ChunkSize {
		n = t.ChunkSize
	}
	data := append([]byte(nil), t.inbound[:n]...)
	t.inbound = t.inbound[n:]
	return data, nil
}

func (t *TestLink) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.dead && !t.closed
}

func (t *TestLink) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Inject queues data as if it had been received from the peer.
func (t *TestLink) Inject(data string) {
	t.InjectBytes([]byte(data))
}

// InjectBytes is Inject for binary data.
func (t *TestLink) InjectBytes(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inbound = append(t.inbound, data...)
}

// Sent returns every Send payload so far, in order.
func (t *TestLink) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentStrings returns Sent as strings.
func (t *TestLink) SentStrings() []string {
	sent := t.Sent()
	out := make([]string, len(sent))
	for i, p := range sent {
		out[i] = string(p)
	}
	return out
}

// ResetSent forgets the recorded payloads.
func (t *TestLink) ResetSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// Kill makes the link fail every subsequent operation, like a pulled cable.
func (t *TestLink) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dead = true
}

// FailSends makes the next Send return err and kill the link.
func (t *TestLink) FailSends(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// Closed reports whether Close has been called.
func (t *TestLink) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Dialer returns a Dialer that always hands out this link.
func (t *TestLink) Dialer() Dialer {
	return DialerFunc(func(context.Context) (Link, error) {
		return t, nil
	})
}
