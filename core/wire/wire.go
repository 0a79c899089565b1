// Package wire defines the JSON frames exchanged with driver apps over the
// live connection. Every frame is an envelope with a type tag and a payload.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/motovia/dispatch/core/model"
)

// Frame types.
const (
	TypeConnectionAck = "connection_ack"
	TypeLocation      = "location"
	TypeStatus        = "status"
	TypeOffer         = "offer"
	TypeOfferResponse = "offer_response"
	TypeError         = "error"
)

// Frame is the envelope for every message on a driver connection.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode parses a raw frame.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("frame without type")
	}
	return f, nil
}

// Unmarshal decodes the frame payload into v.
func (f Frame) Unmarshal(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("frame %s without payload", f.Type)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return nil
}

// LocationPayload is a driver location ping.
type LocationPayload struct {
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	RecordedAt   time.Time `json:"recorded_at"`
	Availability string    `json:"availability"`
	Tags         []string  `json:"tags,omitempty"`
}

// StatusPayload is an explicit availability change.
type StatusPayload struct {
	Availability string `json:"availability"`
}

// OfferResponsePayload is the driver's answer to an offer.
type OfferResponsePayload struct {
	OrderID  string `json:"order_id"`
	Response string `json:"response"` // accept | reject
}

// Accepted reports whether the response is an acceptance.
func (p OfferResponsePayload) Accepted() bool { return p.Response == "accept" }

// ErrorPayload reports a rejected inbound frame back to the driver app.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Marshal builds an envelope frame around the payload.
func Marshal(frameType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", frameType, err)
	}
	return json.Marshal(Frame{Type: frameType, Data: data})
}

// MarshalOffer encodes the offer frame pushed to a driver.
func MarshalOffer(offer model.OfferSummary) ([]byte, error) {
	return Marshal(TypeOffer, offer)
}
