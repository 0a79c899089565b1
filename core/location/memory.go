package location

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/motovia/dispatch/core/geo"
	"github.com/motovia/dispatch/core/model"
)

const shardCount = 16

// MemoryStore is an in-memory Store sharded by driver id, so that updates
// for distinct drivers do not contend on a single lock.
type MemoryStore struct {
	shards    [shardCount]*shard
	staleness time.Duration
	now       func() time.Time
}

type shard struct {
	mu   sync.RWMutex
	data map[string]model.DriverLocation
}

// NewMemoryStore creates a MemoryStore. Records older than staleness are
// treated as offline by queries.
func NewMemoryStore(staleness time.Duration) *MemoryStore {
	s := &MemoryStore{staleness: staleness, now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{data: make(map[string]model.DriverLocation)}
	}
	return s
}

// SetClock overrides the time source. Intended for tests.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) shardFor(driverID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(driverID))
	return s.shards[h.Sum32()%shardCount]
}

// Upsert replaces the driver record if the ping is newer than the stored one.
func (s *MemoryStore) Upsert(_ context.Context, loc model.DriverLocation) error {
	sh := s.shardFor(loc.DriverID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.data[loc.DriverID]; ok && !loc.RecordedAt.After(cur.RecordedAt) {
		return ErrStaleUpdate
	}
	sh.data[loc.DriverID] = loc
	return nil
}

// SetAvailability changes the availability of an existing record in place.
func (s *MemoryStore) SetAvailability(_ context.Context, driverID string, availability model.Availability) error {
	sh := s.shardFor(driverID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur, ok := sh.data[driverID]
	if !ok {
		return ErrUnknownDriver
	}
	cur.Availability = availability
	sh.data[driverID] = cur
	return nil
}

// Get returns the stored record for the driver.
func (s *MemoryStore) Get(_ context.Context, driverID string) (model.DriverLocation, error) {
	sh := s.shardFor(driverID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur, ok := sh.data[driverID]
	if !ok {
		return model.DriverLocation{}, ErrUnknownDriver
	}
	return cur, nil
}

// List returns every stored record.
func (s *MemoryStore) List(_ context.Context) ([]model.DriverLocation, error) {
	var out []model.DriverLocation
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, loc := range sh.data {
			out = append(out, loc)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out, nil
}

// Remove deletes the driver's record.
func (s *MemoryStore) Remove(_ context.Context, driverID string) error {
	sh := s.shardFor(driverID)
	sh.mu.Lock()
	delete(sh.data, driverID)
	sh.mu.Unlock()
	return nil
}

// QueryNear scans per-shard snapshots so a query never observes a driver at
// two different positions, filters by availability, staleness and radius,
// and orders the result by distance then driver id.
func (s *MemoryStore) QueryNear(_ context.Context, origin geo.Point, radiusMeters float64, availability model.Availability) ([]Near, error) {
	cutoff := s.now().Add(-s.staleness)
	var out []Near
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, loc := range sh.data {
			if loc.Availability != availability {
				continue
			}
			if loc.RecordedAt.Before(cutoff) {
				continue
			}
			d := geo.Distance(origin, loc.Position)
			if d > radiusMeters {
				continue
			}
			out = append(out, Near{DriverID: loc.DriverID, DistanceMeters: d, Location: loc})
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceMeters != out[j].DistanceMeters {
			return out[i].DistanceMeters < out[j].DistanceMeters
		}
		return out[i].DriverID < out[j].DriverID
	})
	return out, nil
}
