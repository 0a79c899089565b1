package dispatch

import (
	"fmt"
	"time"
)

// Config defines dispatch policy settings. The defaults are assumptions, not
// derived facts; operators are expected to tune them per deployment.
type Config struct {
	// OfferTimeoutSeconds bounds how long a driver may sit on an offer.
	OfferTimeoutSeconds int `json:"offer_timeout_seconds"`
	// MaxCandidates caps the candidate list per selection round.
	MaxCandidates int `json:"max_candidates"`
	// SearchRadiusMeters bounds the proximity query around the pickup.
	SearchRadiusMeters float64 `json:"search_radius_meters"`
	// LocationStalenessSeconds is the maximum ping age before a driver is
	// treated as offline for matching.
	LocationStalenessSeconds int `json:"location_staleness_seconds"`
	// HistorySize bounds the in-memory archive of terminal assignments.
	HistorySize int `json:"history_size"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.OfferTimeoutSeconds == 0 {
		c.OfferTimeoutSeconds = 15
	}
	if c.MaxCandidates == 0 {
		c.MaxCandidates = 5
	}
	if c.SearchRadiusMeters == 0 {
		c.SearchRadiusMeters = 5000
	}
	if c.LocationStalenessSeconds == 0 {
		c.LocationStalenessSeconds = 90
	}
	if c.HistorySize == 0 {
		c.HistorySize = 128
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.OfferTimeoutSeconds < 0 {
		return fmt.Errorf("offer_timeout_seconds must not be negative")
	}
	if c.MaxCandidates < 0 {
		return fmt.Errorf("max_candidates must not be negative")
	}
	if c.SearchRadiusMeters < 0 {
		return fmt.Errorf("search_radius_meters must not be negative")
	}
	if c.LocationStalenessSeconds < 0 {
		return fmt.Errorf("location_staleness_seconds must not be negative")
	}
	return nil
}

// OfferTimeout returns the per-offer deadline as a duration.
func (c Config) OfferTimeout() time.Duration {
	return time.Duration(c.OfferTimeoutSeconds) * time.Second
}

// LocationStaleness returns the staleness window as a duration.
func (c Config) LocationStaleness() time.Duration {
	return time.Duration(c.LocationStalenessSeconds) * time.Second
}
