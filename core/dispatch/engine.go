package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/motovia/dispatch/core/events"
	"github.com/motovia/dispatch/core/location"
	corelogger "github.com/motovia/dispatch/core/logger"
	coremetrics "github.com/motovia/dispatch/core/metrics"
	"github.com/motovia/dispatch/core/model"
	"github.com/motovia/dispatch/internal/eventbus"
)

// ReasonExhausted is the failure reason when every candidate was consumed.
const ReasonExhausted = "exhausted"

// ReasonSelectorError is the failure reason when candidate selection failed.
const ReasonSelectorError = "selector_error"

// Engine coordinates dispatch attempts. Each order gets its own Assignment,
// driven by a dedicated goroutine so no two transitions for the same
// assignment ever run concurrently. The location store and session registry
// are shared; the engine itself holds no lock while an offer is in flight.
type Engine struct {
	cfg      Config
	selector CandidateSource
	offers   OfferSender
	store    location.Store
	bus      eventbus.EventBus
	sink     coremetrics.MetricsSink
	log      corelogger.Logger
	now      func() time.Time

	mu      sync.Mutex
	active  map[string]*Assignment
	history []Snapshot
	wg      sync.WaitGroup
}

// NewEngine creates an Engine. bus and sink may be nil.
func NewEngine(cfg Config, selector CandidateSource, offers OfferSender, store location.Store, bus eventbus.EventBus, sink coremetrics.MetricsSink, log corelogger.Logger) (*Engine, error) {
	if selector == nil || offers == nil || store == nil || log == nil {
		return nil, errors.New("dispatch: nil parameter provided to NewEngine")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch config: %w", err)
	}
	if sink == nil {
		sink = coremetrics.NopSink{}
	}
	return &Engine{
		cfg:      cfg,
		selector: selector,
		offers:   offers,
		store:    store,
		bus:      bus,
		sink:     sink,
		log:      log,
		now:      time.Now,
		active:   make(map[string]*Assignment),
	}, nil
}

// SetClock overrides the time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// HandleOrder starts a dispatch attempt for the order. A duplicate event for
// an order with an active assignment is ignored, so redelivery from the bus
// is harmless.
func (e *Engine) HandleOrder(ctx context.Context, order model.Order) error {
	if err := order.Validate(); err != nil {
		return fmt.Errorf("invalid order event: %w", err)
	}
	e.mu.Lock()
	if _, exists := e.active[order.ID]; exists {
		e.mu.Unlock()
		duplicateOrders.Inc()
		e.log.Warnf("duplicate OrderCreated for %s ignored", order.ID)
		return nil
	}
	a := newAssignment(order, e.now())
	e.active[order.ID] = a
	activeAssignments.Set(float64(len(e.active)))
	e.mu.Unlock()

	e.publish(events.OrderReceived{Order: order})
	e.wg.Add(1)
	go e.run(ctx, a)
	return nil
}

// Wait blocks until every in-flight assignment has terminated.
func (e *Engine) Wait() { e.wg.Wait() }

// Close waits for in-flight assignments and releases the bus.
func (e *Engine) Close() error {
	e.wg.Wait()
	if e.bus != nil {
		e.bus.Close()
	}
	return nil
}

// Snapshots returns the active assignments followed by the archived ones,
// most recent first.
func (e *Engine) Snapshots() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Snapshot, 0, len(e.active)+len(e.history))
	for _, a := range e.active {
		out = append(out, a.Snapshot())
	}
	for i := len(e.history) - 1; i >= 0; i-- {
		out = append(out, e.history[i])
	}
	return out
}

func (e *Engine) run(ctx context.Context, a *Assignment) {
	defer e.wg.Done()
	defer e.finalize(a)
	for {
		cands, err := e.selector.Select(ctx, a.order)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.log.Errorf("candidate selection for order %s: %v", a.order.ID, err)
			e.fail(a, ReasonSelectorError)
			return
		}
		fresh := cands[:0:0]
		for _, c := range cands {
			if !a.hasTried(c.DriverID) {
				fresh = append(fresh, c)
			}
		}
		if len(fresh) == 0 {
			e.fail(a, ReasonExhausted)
			return
		}
		for _, c := range fresh {
			if ctx.Err() != nil {
				return
			}
			if e.offerOnce(ctx, a, c) {
				return
			}
		}
		// Every candidate of this round was consumed; ask the selector
		// again in case the store changed underneath us.
	}
}

// offerOnce runs a single offer attempt and reports whether the assignment
// reached its successful terminal state.
func (e *Engine) offerOnce(ctx context.Context, a *Assignment, c Candidate) bool {
	a.markOffering(c.DriverID)
	offer := model.OfferSummary{
		OfferID:  uuid.NewString(),
		OrderID:  a.order.ID,
		Pickup:   a.order.Pickup,
		Tags:     a.order.Tags,
		Deadline: e.now().Add(e.cfg.OfferTimeout()),
	}
	offersSent.Inc()
	e.publish(events.OfferSent{
		OrderID:  a.order.ID,
		DriverID: c.DriverID,
		OfferID:  offer.OfferID,
		Attempt:  a.attemptCount(),
		Deadline: offer.Deadline,
	})

	start := time.Now()
	outcome, err := e.offers.Send(ctx, c.DriverID, offer)
	latency := time.Since(start)

	offerOutcomes.WithLabelValues(outcome.String()).Inc()
	offerLatency.WithLabelValues(outcome.String()).Observe(latency.Seconds())
	e.publish(events.OfferResolved{
		OrderID:  a.order.ID,
		DriverID: c.DriverID,
		OfferID:  offer.OfferID,
		Attempt:  a.attemptCount(),
		Outcome:  outcome.String(),
		Latency:  latency,
		Err:      err,
	})
	if ctx.Err() != nil {
		return false
	}

	if outcome == Accepted {
		e.assign(ctx, a, c.DriverID)
		return true
	}
	if err != nil {
		e.log.Warnf("offer %s to driver %s failed: %s: %v", offer.OfferID, c.DriverID, outcome, err)
	} else {
		e.log.Debugw("offer consumed", map[string]any{
			"order_id":  a.order.ID,
			"driver_id": c.DriverID,
			"outcome":   outcome.String(),
		})
	}
	return false
}

func (e *Engine) assign(ctx context.Context, a *Assignment, driverID string) {
	now := e.now()
	a.markAssigned(driverID, now)
	if err := e.store.SetAvailability(ctx, driverID, model.Busy); err != nil {
		// The next location ping from the driver app also reports busy, so
		// a missing record here is not fatal.
		e.log.Warnf("marking driver %s busy: %v", driverID, err)
	}
	attempts := a.attemptCount()
	assignmentsTotal.WithLabelValues("assigned").Inc()
	e.publish(events.OrderAssigned{
		OrderID:    a.order.ID,
		DriverID:   driverID,
		Attempts:   attempts,
		AssignedAt: now,
	})
	_ = e.sink.RecordAssignmentResult(coremetrics.AssignmentResult{
		OrderID:    a.order.ID,
		DriverID:   driverID,
		Assigned:   true,
		Attempts:   attempts,
		DecidedAt:  now,
		TotalDelay: now.Sub(a.Snapshot().CreatedAt),
	})
	e.log.Infof("order %s assigned to driver %s after %d attempt(s)", a.order.ID, driverID, attempts)
}

func (e *Engine) fail(a *Assignment, reason string) {
	now := e.now()
	attempts := a.attemptCount()
	a.markExhausted(reason, now)
	assignmentsTotal.WithLabelValues("exhausted").Inc()
	e.publish(events.DispatchFailed{
		OrderID:  a.order.ID,
		Attempts: attempts,
		Reason:   reason,
		FailedAt: now,
	})
	_ = e.sink.RecordAssignmentResult(coremetrics.AssignmentResult{
		OrderID:    a.order.ID,
		Assigned:   false,
		Attempts:   attempts,
		Reason:     reason,
		DecidedAt:  now,
		TotalDelay: now.Sub(a.Snapshot().CreatedAt),
	})
	e.log.Warnf("dispatch for order %s failed after %d attempt(s): %s", a.order.ID, attempts, reason)
}

func (e *Engine) finalize(a *Assignment) {
	snap := a.Snapshot()
	e.mu.Lock()
	delete(e.active, snap.OrderID)
	activeAssignments.Set(float64(len(e.active)))
	if snap.State == StateAssigned.String() || snap.State == StateExhausted.String() {
		e.history = append(e.history, snap)
		if len(e.history) > e.cfg.HistorySize {
			e.history = e.history[len(e.history)-e.cfg.HistorySize:]
		}
	}
	e.mu.Unlock()
}

func (e *Engine) publish(ev eventbus.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
