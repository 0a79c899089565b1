// Package location implements the live driver location store: last known
// position, availability and ping timestamp per driver, with proximity
// queries used by the candidate selector.
package location

import (
	"context"
	"errors"

	"github.com/motovia/dispatch/core/geo"
	"github.com/motovia/dispatch/core/model"
)

// ErrStaleUpdate is returned when a ping carries a timestamp that is not
// newer than the stored one. Last writer wins by time, not by arrival order.
var ErrStaleUpdate = errors.New("location update is stale")

// ErrUnknownDriver is returned when the driver has no stored location.
var ErrUnknownDriver = errors.New("unknown driver")

// Near is a proximity query result.
type Near struct {
	DriverID       string
	DistanceMeters float64
	Location       model.DriverLocation
}

// Store holds current driver locations and answers proximity queries.
// Records older than the staleness window are excluded from queries even if
// never explicitly marked offline; they are only deleted on an explicit
// offline event or deregistration.
type Store interface {
	// Upsert replaces the driver's record, or fails with ErrStaleUpdate if
	// the ping is not newer than the stored one.
	Upsert(ctx context.Context, loc model.DriverLocation) error

	// QueryNear returns drivers with the given availability within
	// radiusMeters of origin, ascending by distance, ties broken by driver
	// id for determinism.
	QueryNear(ctx context.Context, origin geo.Point, radiusMeters float64, availability model.Availability) ([]Near, error)

	// SetAvailability changes the stored availability without touching the
	// ping timestamp. ErrUnknownDriver if no record exists.
	SetAvailability(ctx context.Context, driverID string, availability model.Availability) error

	// Get returns the stored record for the driver.
	Get(ctx context.Context, driverID string) (model.DriverLocation, error)

	// List returns all stored records, including stale ones. Used by the
	// ops API only.
	List(ctx context.Context) ([]model.DriverLocation, error)

	// Remove deletes the driver's record.
	Remove(ctx context.Context, driverID string) error
}
