package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/motovia/dispatch/core/location"
	corelogger "github.com/motovia/dispatch/core/logger"
	"github.com/motovia/dispatch/core/model"
)

// Candidate is one eligible driver for an offer, ordered by proximity.
type Candidate struct {
	DriverID       string
	DistanceMeters float64
}

// Presence reports driver connectivity. Implemented by session.Registry.
type Presence interface {
	Connected(driverID string) bool
}

// CandidateSource produces the ranked candidate list for an order.
type CandidateSource interface {
	Select(ctx context.Context, order model.Order) ([]Candidate, error)
}

// Selector ranks eligible drivers for an order: available per the location
// store, connected per the registry (connectivity is the stricter gate when
// the two disagree), covering the order's capability tags, capped at the
// configured maximum. Identical store and registry state yields an
// identical, deterministically ordered result.
type Selector struct {
	store    location.Store
	presence Presence
	cfg      Config
	log      corelogger.Logger
}

// NewSelector creates a Selector.
func NewSelector(store location.Store, presence Presence, cfg Config, log corelogger.Logger) (*Selector, error) {
	if store == nil || presence == nil || log == nil {
		return nil, errors.New("dispatch: nil parameter provided to NewSelector")
	}
	return &Selector{store: store, presence: presence, cfg: cfg, log: log}, nil
}

// Select returns the ranked candidates for the order.
func (s *Selector) Select(ctx context.Context, order model.Order) ([]Candidate, error) {
	near, err := s.store.QueryNear(ctx, order.Pickup, s.cfg.SearchRadiusMeters, model.Available)
	if err != nil {
		return nil, fmt.Errorf("proximity query: %w", err)
	}
	out := make([]Candidate, 0, s.cfg.MaxCandidates)
	for _, n := range near {
		if !s.presence.Connected(n.DriverID) {
			continue
		}
		if !n.Location.HasTags(order.Tags) {
			continue
		}
		out = append(out, Candidate{DriverID: n.DriverID, DistanceMeters: n.DistanceMeters})
		if len(out) == s.cfg.MaxCandidates {
			break
		}
	}
	s.log.Debugw("candidates selected", map[string]any{
		"order_id": order.ID,
		"near":     len(near),
		"eligible": len(out),
	})
	return out, nil
}
