package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	corelogger "github.com/motovia/dispatch/core/logger"
	"github.com/motovia/dispatch/core/model"
	"github.com/motovia/dispatch/core/session"
	"github.com/motovia/dispatch/core/wire"
)

// OfferSender delivers one offer to a driver and blocks until its outcome.
type OfferSender interface {
	Send(ctx context.Context, driverID string, offer model.OfferSummary) (Outcome, error)
}

// OfferResolver routes inbound driver responses to the pending offer they
// answer. Responses for a pair that is not pending are discarded.
type OfferResolver interface {
	Resolve(driverID, orderID string, accepted bool) bool
}

// SessionOfferChannel implements OfferSender over live driver sessions. One
// offer at most is pending per driver at any instant: the pending table is
// keyed by driver id, which also enforces that no driver holds two live
// offers across assignments.
type SessionOfferChannel struct {
	registry *session.Registry
	log      corelogger.Logger

	mu      sync.Mutex
	pending map[string]*pendingOffer
}

type pendingOffer struct {
	orderID  string
	offerID  string
	resolved chan bool
}

// NewSessionOfferChannel creates an offer channel backed by the registry.
func NewSessionOfferChannel(registry *session.Registry, log corelogger.Logger) (*SessionOfferChannel, error) {
	if registry == nil || log == nil {
		return nil, errors.New("dispatch: nil parameter provided to NewSessionOfferChannel")
	}
	return &SessionOfferChannel{
		registry: registry,
		log:      log,
		pending:  make(map[string]*pendingOffer),
	}, nil
}

// Send pushes the offer through the driver's session and races the response
// against the deadline and session invalidation. The first resolution wins;
// anything arriving later for this offer instance is a no-op.
func (c *SessionOfferChannel) Send(ctx context.Context, driverID string, offer model.OfferSummary) (Outcome, error) {
	sess, err := c.registry.Lookup(driverID)
	if err != nil {
		return NotConnected, nil
	}

	p := &pendingOffer{orderID: offer.OrderID, offerID: offer.OfferID, resolved: make(chan bool, 1)}
	c.mu.Lock()
	if _, exists := c.pending[driverID]; exists {
		c.mu.Unlock()
		return DriverBusy, nil
	}
	c.pending[driverID] = p
	c.mu.Unlock()
	defer c.clear(driverID, p)

	payload, err := wire.MarshalOffer(offer)
	if err != nil {
		return DeliveryFailed, err
	}
	if err := sess.Send(ctx, payload); err != nil {
		if errors.Is(err, session.ErrSessionSuperseded) {
			return Superseded, nil
		}
		return DeliveryFailed, err
	}

	timer := time.NewTimer(time.Until(offer.Deadline))
	defer timer.Stop()
	select {
	case accepted := <-p.resolved:
		if accepted {
			return Accepted, nil
		}
		return Rejected, nil
	case <-timer.C:
		return Expired, nil
	case <-sess.Invalidated():
		return Superseded, nil
	case <-ctx.Done():
		return Expired, ctx.Err()
	}
}

// Resolve delivers an inbound response to the pending offer for the driver.
// It reports whether the response was applied; mismatched or late responses
// are discarded and logged.
func (c *SessionOfferChannel) Resolve(driverID, orderID string, accepted bool) bool {
	c.mu.Lock()
	p, ok := c.pending[driverID]
	if !ok || p.orderID != orderID {
		c.mu.Unlock()
		c.log.Warnf("ignoring response from driver %s for order %s: no matching pending offer", driverID, orderID)
		return false
	}
	delete(c.pending, driverID)
	c.mu.Unlock()

	select {
	case p.resolved <- accepted:
	default:
	}
	return true
}

func (c *SessionOfferChannel) clear(driverID string, p *pendingOffer) {
	c.mu.Lock()
	if cur, ok := c.pending[driverID]; ok && cur == p {
		delete(c.pending, driverID)
	}
	c.mu.Unlock()
}
