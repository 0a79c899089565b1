// Package session tracks the live connection of each driver. A driver has at
// most one valid session at any instant: registering a new connection for
// the same driver supersedes and invalidates the previous one.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotConnected is returned when the driver has no live session.
var ErrNotConnected = errors.New("driver not connected")

// ErrSessionSuperseded is returned when a send races with a newer connection
// for the same driver.
var ErrSessionSuperseded = errors.New("session superseded")

// Handle is the opaque transport of a session, implemented by the websocket
// gateway and by test fakes.
type Handle interface {
	// Send transmits a payload to the driver.
	Send(ctx context.Context, payload []byte) error
	// Close tears the underlying connection down.
	Close() error
}

// Session binds a driver id to its live connection handle.
type Session struct {
	DriverID    string
	ConnectedAt time.Time

	handle      Handle
	invalidated chan struct{}
	once        sync.Once
}

// Send transmits a payload through the session, failing with
// ErrSessionSuperseded once a newer session for the driver exists.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	select {
	case <-s.invalidated:
		return ErrSessionSuperseded
	default:
	}
	if err := s.handle.Send(ctx, payload); err != nil {
		// A concurrent supersede closes the connection under us; report it
		// as such rather than as a transport fault.
		select {
		case <-s.invalidated:
			return ErrSessionSuperseded
		default:
		}
		return err
	}
	return nil
}

// Invalidated is closed when the session stops being the driver's current
// one, either by a newer connection or by unregistration.
func (s *Session) Invalidated() <-chan struct{} { return s.invalidated }

func (s *Session) invalidate() {
	s.once.Do(func() { close(s.invalidated) })
}
