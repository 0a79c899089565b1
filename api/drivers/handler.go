// Package drivers exposes the read-only ops endpoint for the driver pool.
package drivers

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/motovia/dispatch/core/location"
)

// Presence reports driver connectivity. Implemented by session.Registry.
type Presence interface {
	Connected(driverID string) bool
}

// Entry is one driver in the ops listing.
type Entry struct {
	DriverID     string    `json:"driver_id"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	RecordedAt   time.Time `json:"recorded_at"`
	Availability string    `json:"availability"`
	Tags         []string  `json:"tags,omitempty"`
	Connected    bool      `json:"connected"`
}

// NewListHandler returns an HTTP handler exposing the driver pool via
// GET /api/drivers.
func NewListHandler(store location.Store, presence Presence) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		locs, err := store.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		filter := r.URL.Query().Get("availability")
		entries := make([]Entry, 0, len(locs))
		for _, loc := range locs {
			if filter != "" && loc.Availability.String() != filter {
				continue
			}
			entries = append(entries, Entry{
				DriverID:     loc.DriverID,
				Lat:          loc.Position.Lat,
				Lon:          loc.Position.Lon,
				RecordedAt:   loc.RecordedAt,
				Availability: loc.Availability.String(),
				Tags:         loc.Tags,
				Connected:    presence != nil && presence.Connected(loc.DriverID),
			})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].DriverID < entries[j].DriverID })
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
