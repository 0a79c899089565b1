package model

import (
	"fmt"
	"time"

	"github.com/motovia/dispatch/core/geo"
)

// Order references an order owned by the external order service. The engine
// never mutates it; it only needs the pickup point and capability constraints
// to run a dispatch attempt.
type Order struct {
	ID        string    `json:"order_id"`
	Pickup    geo.Point `json:"pickup"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the order event is structurally sound.
func (o Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("order id is required")
	}
	if !o.Pickup.Valid() {
		return fmt.Errorf("pickup out of bounds: %+v", o.Pickup)
	}
	return nil
}

// OfferSummary is the payload pushed to a driver when an offer is made.
type OfferSummary struct {
	OfferID  string    `json:"offer_id"`
	OrderID  string    `json:"order_id"`
	Pickup   geo.Point `json:"pickup"`
	Tags     []string  `json:"tags,omitempty"`
	Deadline time.Time `json:"deadline"`
}
