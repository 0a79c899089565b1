// Package location provides the Redis-backed driver location store. It keeps
// positions in a GEO set and per-driver metadata (ping timestamp,
// availability, capability tags) in hashes, so the engine can run against a
// shared store when several dispatch instances are deployed.
package location

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/motovia/dispatch/core/geo"
	corelocation "github.com/motovia/dispatch/core/location"
	"github.com/motovia/dispatch/core/model"
)

const (
	geoKey        = "driver_locations"
	metaKeyPrefix = "driver_locations:meta:"
)

// upsertScript rejects pings that are not newer than the stored record, then
// writes the metadata hash and GEO entry in one round trip. Timestamps are
// zero-padded nanosecond strings compared lexically: Lua numbers are doubles
// and lose nanosecond precision at epoch magnitude.
var upsertScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'recorded_at')
if cur and ARGV[1] <= cur then
  return 0
end
redis.call('HSET', KEYS[1], 'recorded_at', ARGV[1], 'availability', ARGV[2], 'tags', ARGV[3])
redis.call('GEOADD', KEYS[2], ARGV[4], ARGV[5], ARGV[6])
return 1
`)

// RedisStore implements the location store on Redis.
type RedisStore struct {
	client    redis.UniversalClient
	staleness time.Duration
	now       func() time.Time
}

// NewRedisStore creates a store on the given client. staleness bounds how old
// a ping may be before the driver stops showing up in proximity queries.
func NewRedisStore(client redis.UniversalClient, staleness time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("location: nil redis client provided to NewRedisStore")
	}
	if staleness <= 0 {
		return nil, errors.New("location: staleness must be positive")
	}
	return &RedisStore{client: client, staleness: staleness, now: time.Now}, nil
}

// SetClock overrides the time source. Intended for tests.
func (s *RedisStore) SetClock(now func() time.Time) { s.now = now }

func metaKey(driverID string) string { return metaKeyPrefix + driverID }

// encodeRecordedAt renders a timestamp as a fixed-width nanosecond string so
// two encodings compare lexically the way the instants compare.
func encodeRecordedAt(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}

func (s *RedisStore) Upsert(ctx context.Context, loc model.DriverLocation) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	res, err := upsertScript.Run(ctx, s.client,
		[]string{metaKey(loc.DriverID), geoKey},
		encodeRecordedAt(loc.RecordedAt),
		loc.Availability.String(),
		strings.Join(loc.Tags, ","),
		strconv.FormatFloat(loc.Position.Lon, 'f', -1, 64),
		strconv.FormatFloat(loc.Position.Lat, 'f', -1, 64),
		loc.DriverID,
	).Int()
	if err != nil {
		return fmt.Errorf("location upsert for %s: %w", loc.DriverID, err)
	}
	if res == 0 {
		return corelocation.ErrStaleUpdate
	}
	return nil
}

func (s *RedisStore) QueryNear(ctx context.Context, origin geo.Point, radiusMeters float64, availability model.Availability) ([]corelocation.Near, error) {
	if !origin.Valid() {
		return nil, errors.New("invalid query origin")
	}
	found, err := s.client.GeoSearchLocation(ctx, geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  origin.Lon,
			Latitude:   origin.Lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	metas := make([]*redis.MapStringStringCmd, len(found))
	for i, f := range found {
		metas[i] = pipe.HGetAll(ctx, metaKey(f.Name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("location metadata: %w", err)
	}

	cutoff := s.now().Add(-s.staleness)
	out := make([]corelocation.Near, 0, len(found))
	for i, f := range found {
		meta := metas[i].Val()
		loc, err := locationFromMeta(f.Name, geo.Point{Lat: f.Latitude, Lon: f.Longitude}, meta)
		if err != nil {
			// Orphaned GEO member, likely a racing Remove. Skip it.
			continue
		}
		if loc.Availability != availability || loc.RecordedAt.Before(cutoff) {
			continue
		}
		out = append(out, corelocation.Near{
			DriverID:       f.Name,
			DistanceMeters: f.Dist,
			Location:       loc,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceMeters != out[j].DistanceMeters {
			return out[i].DistanceMeters < out[j].DistanceMeters
		}
		return out[i].DriverID < out[j].DriverID
	})
	return out, nil
}

func (s *RedisStore) SetAvailability(ctx context.Context, driverID string, availability model.Availability) error {
	exists, err := s.client.HExists(ctx, metaKey(driverID), "recorded_at").Result()
	if err != nil {
		return fmt.Errorf("availability check for %s: %w", driverID, err)
	}
	if !exists {
		return corelocation.ErrUnknownDriver
	}
	if err := s.client.HSet(ctx, metaKey(driverID), "availability", availability.String()).Err(); err != nil {
		return fmt.Errorf("availability write for %s: %w", driverID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, driverID string) (model.DriverLocation, error) {
	meta, err := s.client.HGetAll(ctx, metaKey(driverID)).Result()
	if err != nil {
		return model.DriverLocation{}, fmt.Errorf("location read for %s: %w", driverID, err)
	}
	if len(meta) == 0 {
		return model.DriverLocation{}, corelocation.ErrUnknownDriver
	}
	pos, err := s.client.GeoPos(ctx, geoKey, driverID).Result()
	if err != nil {
		return model.DriverLocation{}, fmt.Errorf("geo position for %s: %w", driverID, err)
	}
	var pt geo.Point
	if len(pos) > 0 && pos[0] != nil {
		pt = geo.Point{Lat: pos[0].Latitude, Lon: pos[0].Longitude}
	}
	return locationFromMeta(driverID, pt, meta)
}

func (s *RedisStore) List(ctx context.Context) ([]model.DriverLocation, error) {
	ids, err := s.client.ZRange(ctx, geoKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("location list: %w", err)
	}
	out := make([]model.DriverLocation, 0, len(ids))
	for _, id := range ids {
		loc, err := s.Get(ctx, id)
		if errors.Is(err, corelocation.ErrUnknownDriver) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, nil
}

func (s *RedisStore) Remove(ctx context.Context, driverID string) error {
	pipe := s.client.Pipeline()
	pipe.ZRem(ctx, geoKey, driverID)
	pipe.Del(ctx, metaKey(driverID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("location remove for %s: %w", driverID, err)
	}
	return nil
}

func locationFromMeta(driverID string, pos geo.Point, meta map[string]string) (model.DriverLocation, error) {
	rawTS, ok := meta["recorded_at"]
	if !ok {
		return model.DriverLocation{}, corelocation.ErrUnknownDriver
	}
	nanos, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return model.DriverLocation{}, fmt.Errorf("corrupt timestamp for %s: %w", driverID, err)
	}
	availability, err := model.ParseAvailability(meta["availability"])
	if err != nil {
		return model.DriverLocation{}, fmt.Errorf("corrupt availability for %s: %w", driverID, err)
	}
	var tags []string
	if meta["tags"] != "" {
		tags = strings.Split(meta["tags"], ",")
	}
	return model.DriverLocation{
		DriverID:     driverID,
		Position:     pos,
		RecordedAt:   time.Unix(0, nanos),
		Availability: availability,
		Tags:         tags,
	}, nil
}
