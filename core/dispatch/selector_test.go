package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motovia/dispatch/core/geo"
	"github.com/motovia/dispatch/core/location"
	"github.com/motovia/dispatch/core/model"
	infralogger "github.com/motovia/dispatch/infra/logger"
)

type fakePresence map[string]bool

func (p fakePresence) Connected(driverID string) bool { return p[driverID] }

// Pickup at the Place de la Republique, drivers at increasing distance.
var pickup = geo.Point{Lat: 48.8675, Lon: 2.3639}

func seedDriver(t *testing.T, store *location.MemoryStore, id string, pos geo.Point, av model.Availability, tags ...string) {
	t.Helper()
	err := store.Upsert(context.Background(), model.DriverLocation{
		DriverID:     id,
		Position:     pos,
		RecordedAt:   time.Now(),
		Availability: av,
		Tags:         tags,
	})
	require.NoError(t, err)
}

func TestSelectorRanksByDistance(t *testing.T) {
	store := location.NewMemoryStore(90 * time.Second)
	presence := fakePresence{"D1": true, "D2": true}

	// D1 roughly 500m away, D2 roughly 300m away.
	seedDriver(t, store, "D1", geo.Point{Lat: 48.8720, Lon: 2.3639}, model.Available)
	seedDriver(t, store, "D2", geo.Point{Lat: 48.8702, Lon: 2.3639}, model.Available)

	sel, err := NewSelector(store, presence, Config{SearchRadiusMeters: 5000, MaxCandidates: 5}, infralogger.NopLogger{})
	require.NoError(t, err)

	cands, err := sel.Select(context.Background(), model.Order{ID: "O1", Pickup: pickup, CreatedAt: time.Now()})
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "D2", cands[0].DriverID)
	assert.Equal(t, "D1", cands[1].DriverID)
	assert.Less(t, cands[0].DistanceMeters, cands[1].DistanceMeters)
}

func TestSelectorSkipsDisconnectedAndBusy(t *testing.T) {
	store := location.NewMemoryStore(90 * time.Second)
	presence := fakePresence{"D1": true, "D3": true}

	seedDriver(t, store, "D1", pickup, model.Available)
	seedDriver(t, store, "D2", pickup, model.Available) // not connected
	seedDriver(t, store, "D3", pickup, model.Busy)

	sel, err := NewSelector(store, presence, Config{SearchRadiusMeters: 5000, MaxCandidates: 5}, infralogger.NopLogger{})
	require.NoError(t, err)

	cands, err := sel.Select(context.Background(), model.Order{ID: "O1", Pickup: pickup, CreatedAt: time.Now()})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "D1", cands[0].DriverID)
}

func TestSelectorFiltersByTags(t *testing.T) {
	store := location.NewMemoryStore(90 * time.Second)
	presence := fakePresence{"D1": true, "D2": true}

	seedDriver(t, store, "D1", pickup, model.Available, "cargo")
	seedDriver(t, store, "D2", pickup, model.Available)

	sel, err := NewSelector(store, presence, Config{SearchRadiusMeters: 5000, MaxCandidates: 5}, infralogger.NopLogger{})
	require.NoError(t, err)

	cands, err := sel.Select(context.Background(), model.Order{
		ID:        "O1",
		Pickup:    pickup,
		Tags:      []string{"cargo"},
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "D1", cands[0].DriverID)
}

func TestSelectorCapsCandidates(t *testing.T) {
	store := location.NewMemoryStore(90 * time.Second)
	presence := fakePresence{}
	ids := []string{"D1", "D2", "D3", "D4"}
	for i, id := range ids {
		presence[id] = true
		seedDriver(t, store, id, geo.Point{Lat: pickup.Lat + float64(i)*0.001, Lon: pickup.Lon}, model.Available)
	}

	sel, err := NewSelector(store, presence, Config{SearchRadiusMeters: 5000, MaxCandidates: 2}, infralogger.NopLogger{})
	require.NoError(t, err)

	cands, err := sel.Select(context.Background(), model.Order{ID: "O1", Pickup: pickup, CreatedAt: time.Now()})
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "D1", cands[0].DriverID)
	assert.Equal(t, "D2", cands[1].DriverID)
}
