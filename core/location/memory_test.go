package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/motovia/dispatch/core/geo"
	"github.com/motovia/dispatch/core/model"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ping(id string, lat, lon float64, at time.Time) model.DriverLocation {
	return model.DriverLocation{
		DriverID:     id,
		Position:     geo.Point{Lat: lat, Lon: lon},
		RecordedAt:   at,
		Availability: model.Available,
	}
}

func TestUpsertRejectsStale(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	s.SetClock(func() time.Time { return base })

	if err := s.Upsert(ctx, ping("d3", 4.60, -74.08, base)); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	err := s.Upsert(ctx, ping("d3", 4.70, -74.10, base.Add(-time.Second)))
	if !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("expected ErrStaleUpdate got %v", err)
	}
	// Equal timestamps are also rejected.
	err = s.Upsert(ctx, ping("d3", 4.70, -74.10, base))
	if !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("expected ErrStaleUpdate for equal timestamp got %v", err)
	}

	got, err := s.Get(ctx, "d3")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Position.Lat != 4.60 {
		t.Fatalf("stale update applied: %+v", got)
	}
}

func TestQueryNearOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	s.SetClock(func() time.Time { return base })
	origin := geo.Point{Lat: 0, Lon: 0}

	// ~500m north, ~300m north, and one far away.
	mustUpsert(t, s, ping("d1", 0.0045, 0, base))
	mustUpsert(t, s, ping("d2", 0.0027, 0, base))
	mustUpsert(t, s, ping("far", 1, 1, base))

	near, err := s.QueryNear(ctx, origin, 5000, model.Available)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(near) != 2 || near[0].DriverID != "d2" || near[1].DriverID != "d1" {
		t.Fatalf("unexpected order: %+v", near)
	}
	if near[0].DistanceMeters >= near[1].DistanceMeters {
		t.Fatalf("distances not ascending: %+v", near)
	}
}

func TestQueryNearTieBreakByID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	s.SetClock(func() time.Time { return base })

	mustUpsert(t, s, ping("b", 0.001, 0, base))
	mustUpsert(t, s, ping("a", 0.001, 0, base))

	near, err := s.QueryNear(ctx, geo.Point{}, 1000, model.Available)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(near) != 2 || near[0].DriverID != "a" || near[1].DriverID != "b" {
		t.Fatalf("tie not broken by id: %+v", near)
	}
}

func TestQueryNearExcludesStaleAndUnavailable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	s.SetClock(func() time.Time { return base })

	old := ping("old", 0.001, 0, base.Add(-2*time.Minute))
	mustUpsert(t, s, old)
	busy := ping("busy", 0.001, 0, base)
	busy.Availability = model.Busy
	mustUpsert(t, s, busy)
	mustUpsert(t, s, ping("ok", 0.001, 0, base))

	near, err := s.QueryNear(ctx, geo.Point{}, 1000, model.Available)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(near) != 1 || near[0].DriverID != "ok" {
		t.Fatalf("expected only fresh available driver: %+v", near)
	}

	// Stale records are excluded, not deleted.
	if _, err := s.Get(ctx, "old"); err != nil {
		t.Fatalf("stale record was deleted: %v", err)
	}
}

func TestSetAvailability(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	s.SetClock(func() time.Time { return base })

	if err := s.SetAvailability(ctx, "ghost", model.Busy); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver got %v", err)
	}

	mustUpsert(t, s, ping("d1", 0.001, 0, base))
	if err := s.SetAvailability(ctx, "d1", model.Busy); err != nil {
		t.Fatalf("set availability: %v", err)
	}
	got, _ := s.Get(ctx, "d1")
	if got.Availability != model.Busy {
		t.Fatalf("availability not updated: %+v", got)
	}
	if !got.RecordedAt.Equal(base) {
		t.Fatalf("timestamp must not change: %+v", got)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	mustUpsert(t, s, ping("d1", 0.001, 0, base))
	if err := s.Remove(ctx, "d1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Get(ctx, "d1"); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver got %v", err)
	}
}

func mustUpsert(t *testing.T, s Store, loc model.DriverLocation) {
	t.Helper()
	if err := s.Upsert(context.Background(), loc); err != nil {
		t.Fatalf("upsert %s: %v", loc.DriverID, err)
	}
}
