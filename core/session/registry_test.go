package session

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeHandle struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	err    error
}

func (f *fakeHandle) Send(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestLookupNotConnected(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Lookup("d1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected got %v", err)
	}
}

func TestRegisterSupersedes(t *testing.T) {
	r := NewRegistry()
	h1, h2 := &fakeHandle{}, &fakeHandle{}
	s1 := r.Register("d1", h1)
	s2 := r.Register("d1", h2)

	if err := s1.Send(context.Background(), []byte("x")); !errors.Is(err, ErrSessionSuperseded) {
		t.Fatalf("expected ErrSessionSuperseded got %v", err)
	}
	if !h1.closed {
		t.Fatalf("superseded connection not closed")
	}
	if err := s2.Send(context.Background(), []byte("y")); err != nil {
		t.Fatalf("current session send: %v", err)
	}
	cur, err := r.Lookup("d1")
	if err != nil || cur != s2 {
		t.Fatalf("lookup returned wrong session")
	}
	if r.Count() != 1 {
		t.Fatalf("expected one session got %d", r.Count())
	}
}

func TestUnregisterOnlyCurrent(t *testing.T) {
	r := NewRegistry()
	s1 := r.Register("d1", &fakeHandle{})
	s2 := r.Register("d1", &fakeHandle{})

	// The read loop of the superseded connection exits late and tries to
	// unregister; the newer session must survive.
	if r.Unregister("d1", s1) {
		t.Fatalf("stale unregister must be a no-op")
	}
	if !r.Connected("d1") {
		t.Fatalf("driver lost its current session")
	}
	if !r.Unregister("d1", s2) {
		t.Fatalf("current unregister failed")
	}
	if r.Connected("d1") {
		t.Fatalf("driver still connected after unregister")
	}
	select {
	case <-s2.Invalidated():
	default:
		t.Fatalf("unregistered session not invalidated")
	}
}

func TestSendReportsSupersededOverTransportError(t *testing.T) {
	r := NewRegistry()
	h := &fakeHandle{err: errors.New("broken pipe")}
	s := r.Register("d1", h)
	r.Register("d1", &fakeHandle{})
	if err := s.Send(context.Background(), []byte("x")); !errors.Is(err, ErrSessionSuperseded) {
		t.Fatalf("expected ErrSessionSuperseded got %v", err)
	}
}
