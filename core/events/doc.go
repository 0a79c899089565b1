// Package events defines the engine events emitted on the internal bus.
//
// Available event types:
//   - OrderReceived: a new order entered the engine
//   - OfferSent: an offer was pushed to a driver session
//   - OfferResolved: an offer reached its outcome
//   - OrderAssigned: a dispatch attempt succeeded (published outbound)
//   - DispatchFailed: all candidates were exhausted (published outbound)
package events
