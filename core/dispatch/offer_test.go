package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motovia/dispatch/core/model"
	"github.com/motovia/dispatch/core/session"
	"github.com/motovia/dispatch/core/wire"
	infralogger "github.com/motovia/dispatch/infra/logger"
)

type fakeHandle struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (h *fakeHandle) Send(_ context.Context, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.frames = append(h.frames, payload)
	return nil
}

func (h *fakeHandle) Close() error { return nil }

func (h *fakeHandle) sent() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func testOffer(orderID string, deadline time.Time) model.OfferSummary {
	return model.OfferSummary{
		OfferID:  "OF-" + orderID,
		OrderID:  orderID,
		Pickup:   pickup,
		Deadline: deadline,
	}
}

func TestOfferChannelNotConnected(t *testing.T) {
	ch, err := NewSessionOfferChannel(session.NewRegistry(), infralogger.NopLogger{})
	require.NoError(t, err)

	outcome, err := ch.Send(context.Background(), "D1", testOffer("O1", time.Now().Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, NotConnected, outcome)
}

func TestOfferChannelAccept(t *testing.T) {
	reg := session.NewRegistry()
	h := &fakeHandle{}
	reg.Register("D1", h)

	ch, err := NewSessionOfferChannel(reg, infralogger.NopLogger{})
	require.NoError(t, err)

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := ch.Send(context.Background(), "D1", testOffer("O1", time.Now().Add(5*time.Second)))
		done <- outcome
	}()

	require.Eventually(t, func() bool { return h.sent() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, ch.Resolve("D1", "O1", true))

	select {
	case outcome := <-done:
		assert.Equal(t, Accepted, outcome)
	case <-time.After(time.Second):
		t.Fatal("offer did not resolve")
	}

	// The offer frame the driver received carries the order details.
	var frame wire.Frame
	require.NoError(t, json.Unmarshal(h.frames[0], &frame))
	assert.Equal(t, wire.TypeOffer, frame.Type)
}

func TestOfferChannelReject(t *testing.T) {
	reg := session.NewRegistry()
	h := &fakeHandle{}
	reg.Register("D1", h)

	ch, err := NewSessionOfferChannel(reg, infralogger.NopLogger{})
	require.NoError(t, err)

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := ch.Send(context.Background(), "D1", testOffer("O1", time.Now().Add(5*time.Second)))
		done <- outcome
	}()

	require.Eventually(t, func() bool { return h.sent() == 1 }, time.Second, 5*time.Millisecond)
	ch.Resolve("D1", "O1", false)
	assert.Equal(t, Rejected, <-done)
}

func TestOfferChannelExpiry(t *testing.T) {
	reg := session.NewRegistry()
	reg.Register("D1", &fakeHandle{})

	ch, err := NewSessionOfferChannel(reg, infralogger.NopLogger{})
	require.NoError(t, err)

	outcome, err := ch.Send(context.Background(), "D1", testOffer("O1", time.Now().Add(30*time.Millisecond)))
	require.NoError(t, err)
	assert.Equal(t, Expired, outcome)

	// A response arriving after expiry must find nothing to resolve.
	assert.False(t, ch.Resolve("D1", "O1", true))
}

func TestOfferChannelSupersededMidOffer(t *testing.T) {
	reg := session.NewRegistry()
	reg.Register("D1", &fakeHandle{})

	ch, err := NewSessionOfferChannel(reg, infralogger.NopLogger{})
	require.NoError(t, err)

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := ch.Send(context.Background(), "D1", testOffer("O1", time.Now().Add(5*time.Second)))
		done <- outcome
	}()

	require.Eventually(t, func() bool { return reg.Connected("D1") }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	reg.Register("D1", &fakeHandle{}) // reconnect invalidates the first session

	select {
	case outcome := <-done:
		assert.Equal(t, Superseded, outcome)
	case <-time.After(time.Second):
		t.Fatal("offer did not resolve on supersede")
	}
}

func TestOfferChannelOnePendingPerDriver(t *testing.T) {
	reg := session.NewRegistry()
	h := &fakeHandle{}
	reg.Register("D1", h)

	ch, err := NewSessionOfferChannel(reg, infralogger.NopLogger{})
	require.NoError(t, err)

	go ch.Send(context.Background(), "D1", testOffer("O1", time.Now().Add(5*time.Second)))
	require.Eventually(t, func() bool { return h.sent() == 1 }, time.Second, 5*time.Millisecond)

	outcome, err := ch.Send(context.Background(), "D1", testOffer("O2", time.Now().Add(5*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, DriverBusy, outcome)

	ch.Resolve("D1", "O1", false)
}

func TestOfferChannelMismatchedOrderIgnored(t *testing.T) {
	reg := session.NewRegistry()
	h := &fakeHandle{}
	reg.Register("D1", h)

	ch, err := NewSessionOfferChannel(reg, infralogger.NopLogger{})
	require.NoError(t, err)

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := ch.Send(context.Background(), "D1", testOffer("O1", time.Now().Add(200*time.Millisecond)))
		done <- outcome
	}()

	require.Eventually(t, func() bool { return h.sent() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, ch.Resolve("D1", "O9", true))
	assert.Equal(t, Expired, <-done)
}

func TestOfferChannelDeliveryFailed(t *testing.T) {
	reg := session.NewRegistry()
	reg.Register("D1", &fakeHandle{err: context.DeadlineExceeded})

	ch, err := NewSessionOfferChannel(reg, infralogger.NopLogger{})
	require.NoError(t, err)

	outcome, err := ch.Send(context.Background(), "D1", testOffer("O1", time.Now().Add(time.Second)))
	require.Error(t, err)
	assert.Equal(t, DeliveryFailed, outcome)
}
