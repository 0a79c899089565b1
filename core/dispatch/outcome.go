package dispatch

// Outcome is the terminal result of one offer instance. Everything except
// Accepted consumes the candidate and advances the assignment to the next
// one.
type Outcome int

const (
	// Accepted: the driver took the order.
	Accepted Outcome = iota
	// Rejected: the driver declined.
	Rejected
	// Expired: the deadline elapsed with no response.
	Expired
	// NotConnected: no live session at send time.
	NotConnected
	// Superseded: the session was replaced or closed mid-offer.
	Superseded
	// DeliveryFailed: the transport failed to deliver the offer.
	DeliveryFailed
	// DriverBusy: the driver already has a live offer from another
	// assignment.
	DriverBusy
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Expired:
		return "expired"
	case NotConnected:
		return "not_connected"
	case Superseded:
		return "superseded"
	case DeliveryFailed:
		return "delivery_failed"
	case DriverBusy:
		return "driver_busy"
	default:
		return "unknown"
	}
}
