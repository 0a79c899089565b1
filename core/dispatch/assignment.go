package dispatch

import (
	"sync"
	"time"

	"github.com/motovia/dispatch/core/model"
)

// State is the lifecycle state of an assignment.
type State int

const (
	StateCreated State = iota
	StateOffering
	StateAssigned
	StateExhausted
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOffering:
		return "offering"
	case StateAssigned:
		return "assigned"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool { return s == StateAssigned || s == StateExhausted }

// Assignment owns the dispatch attempt of one order. All transitions happen
// on the assignment's own goroutine; the mutex only protects snapshot reads
// from the ops API.
type Assignment struct {
	mu sync.Mutex

	order     model.Order
	state     State
	attempts  int
	current   string
	tried     map[string]struct{}
	createdAt time.Time
	decidedAt time.Time
	driverID  string
	reason    string
}

func newAssignment(order model.Order, now time.Time) *Assignment {
	return &Assignment{
		order:     order,
		state:     StateCreated,
		tried:     make(map[string]struct{}),
		createdAt: now,
	}
}

// markOffering records a new offer attempt to the driver.
func (a *Assignment) markOffering(driverID string) {
	a.mu.Lock()
	a.state = StateOffering
	a.current = driverID
	a.tried[driverID] = struct{}{}
	a.attempts++
	a.mu.Unlock()
}

// markAssigned moves the assignment to its successful terminal state.
func (a *Assignment) markAssigned(driverID string, now time.Time) {
	a.mu.Lock()
	a.state = StateAssigned
	a.driverID = driverID
	a.current = ""
	a.decidedAt = now
	a.mu.Unlock()
}

// markExhausted moves the assignment to its failed terminal state.
func (a *Assignment) markExhausted(reason string, now time.Time) {
	a.mu.Lock()
	a.state = StateExhausted
	a.reason = reason
	a.current = ""
	a.decidedAt = now
	a.mu.Unlock()
}

// hasTried reports whether the driver was already offered this order.
func (a *Assignment) hasTried(driverID string) bool {
	a.mu.Lock()
	_, ok := a.tried[driverID]
	a.mu.Unlock()
	return ok
}

func (a *Assignment) attemptCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts
}

// Snapshot is a read-only view of an assignment for the ops API.
type Snapshot struct {
	OrderID       string    `json:"order_id"`
	State         string    `json:"state"`
	Attempts      int       `json:"attempts"`
	CurrentDriver string    `json:"current_driver,omitempty"`
	DriverID      string    `json:"driver_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	DecidedAt     time.Time `json:"decided_at"`
}

// Snapshot returns a consistent view of the assignment.
func (a *Assignment) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		OrderID:       a.order.ID,
		State:         a.state.String(),
		Attempts:      a.attempts,
		CurrentDriver: a.current,
		DriverID:      a.driverID,
		Reason:        a.reason,
		CreatedAt:     a.createdAt,
		DecidedAt:     a.decidedAt,
	}
}
