package events

import (
	"time"

	"github.com/motovia/dispatch/core/model"
)

// OrderReceived is published when a new order enters the engine.
type OrderReceived struct {
	Order model.Order
}

// OfferSent is published for each offer pushed to a driver session.
type OfferSent struct {
	OrderID  string
	DriverID string
	OfferID  string
	Attempt  int
	Deadline time.Time
}

// OfferResolved is published when an offer reaches its outcome. Outcome is
// the string form of the dispatch outcome (accepted, rejected, timeout, ...).
type OfferResolved struct {
	OrderID  string
	DriverID string
	OfferID  string
	Attempt  int
	Outcome  string
	Latency  time.Duration
	Err      error
}

// OrderAssigned is published when a driver accepts an order. The outtake
// adapter forwards it to the external bus; consumers must be idempotent on
// OrderID since redelivery is possible.
type OrderAssigned struct {
	OrderID    string
	DriverID   string
	Attempts   int
	AssignedAt time.Time
}

// DispatchFailed is published when an assignment exhausts its candidates.
type DispatchFailed struct {
	OrderID  string
	Attempts int
	Reason   string
	FailedAt time.Time
}
