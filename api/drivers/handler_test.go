package drivers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motovia/dispatch/core/geo"
	"github.com/motovia/dispatch/core/location"
	"github.com/motovia/dispatch/core/model"
)

type staticPresence map[string]bool

func (p staticPresence) Connected(id string) bool { return p[id] }

func TestListHandler(t *testing.T) {
	store := location.NewMemoryStore(time.Hour)
	for _, d := range []model.DriverLocation{
		{DriverID: "D2", Position: geo.Point{Lat: 48.87, Lon: 2.36}, RecordedAt: time.Now(), Availability: model.Available},
		{DriverID: "D1", Position: geo.Point{Lat: 48.86, Lon: 2.35}, RecordedAt: time.Now(), Availability: model.Busy, Tags: []string{"cargo"}},
	} {
		require.NoError(t, store.Upsert(context.Background(), d))
	}

	h := NewListHandler(store, staticPresence{"D1": true})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/drivers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "D1", entries[0].DriverID)
	assert.True(t, entries[0].Connected)
	assert.Equal(t, "busy", entries[0].Availability)
	assert.Equal(t, "D2", entries[1].DriverID)
	assert.False(t, entries[1].Connected)
}

func TestListHandlerAvailabilityFilter(t *testing.T) {
	store := location.NewMemoryStore(time.Hour)
	require.NoError(t, store.Upsert(context.Background(), model.DriverLocation{
		DriverID: "D1", Position: geo.Point{Lat: 48.86, Lon: 2.35}, RecordedAt: time.Now(), Availability: model.Busy,
	}))

	h := NewListHandler(store, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/drivers?availability=available", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Empty(t, entries)
}

func TestListHandlerMethodNotAllowed(t *testing.T) {
	h := NewListHandler(location.NewMemoryStore(time.Hour), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/drivers", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
