// Package assignments exposes the read-only ops endpoint for assignment
// state.
package assignments

import (
	"encoding/json"
	"net/http"

	"github.com/motovia/dispatch/core/dispatch"
)

// SnapshotSource serves assignment snapshots. Implemented by the engine.
type SnapshotSource interface {
	Snapshots() []dispatch.Snapshot
}

// NewListHandler returns an HTTP handler exposing assignments via
// GET /api/assignments. Active assignments come first, then archived ones,
// most recent first. An optional state query parameter filters the result.
func NewListHandler(source SnapshotSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snaps := source.Snapshots()
		if state := r.URL.Query().Get("state"); state != "" {
			filtered := snaps[:0:0]
			for _, s := range snaps {
				if s.State == state {
					filtered = append(filtered, s)
				}
			}
			snaps = filtered
		}
		if snaps == nil {
			snaps = []dispatch.Snapshot{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snaps); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
