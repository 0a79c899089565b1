package model

import (
	"fmt"
	"time"

	"github.com/motovia/dispatch/core/geo"
)

// Availability is the matching status advertised by a driver.
type Availability int

const (
	Available Availability = iota
	Busy
	Offline
)

// String returns a human-readable representation of the availability.
func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case Busy:
		return "busy"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// ParseAvailability converts the wire representation used by driver apps.
func ParseAvailability(s string) (Availability, error) {
	switch s {
	case "available":
		return Available, nil
	case "busy":
		return Busy, nil
	case "offline":
		return Offline, nil
	default:
		return Offline, fmt.Errorf("unknown availability %q", s)
	}
}

// DriverLocation is the last known position and status of a driver.
// RecordedAt is monotonically non-decreasing per driver: the location store
// rejects updates carrying an older timestamp than the stored one.
type DriverLocation struct {
	DriverID     string       `json:"driver_id"`
	Position     geo.Point    `json:"position"`
	RecordedAt   time.Time    `json:"recorded_at"`
	Availability Availability `json:"availability"`
	// Tags advertise driver capabilities (vehicle type, cargo box, ...).
	Tags []string `json:"tags,omitempty"`
}

// Validate checks that the ping is structurally sound.
func (l DriverLocation) Validate() error {
	if l.DriverID == "" {
		return fmt.Errorf("driver id is required")
	}
	if !l.Position.Valid() {
		return fmt.Errorf("position out of bounds: %+v", l.Position)
	}
	if l.RecordedAt.IsZero() {
		return fmt.Errorf("recorded_at is required")
	}
	return nil
}

// HasTags reports whether the driver covers every required capability tag.
func (l DriverLocation) HasTags(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(l.Tags))
	for _, t := range l.Tags {
		have[t] = struct{}{}
	}
	for _, t := range required {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}
