// Package ws exposes the driver-facing websocket endpoint. Each driver app
// keeps one persistent connection, identified by driver id, over which it
// pushes location pings and availability changes and receives dispatch
// offers.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/motovia/dispatch/core/dispatch"
	"github.com/motovia/dispatch/core/geo"
	"github.com/motovia/dispatch/core/location"
	corelogger "github.com/motovia/dispatch/core/logger"
	coremetrics "github.com/motovia/dispatch/core/metrics"
	"github.com/motovia/dispatch/core/model"
	"github.com/motovia/dispatch/core/session"
	"github.com/motovia/dispatch/core/wire"
)

const (
	writeTimeout = 5 * time.Second
	readLimit    = 32 << 10
)

// Gateway upgrades driver connections and routes their frames to the
// location store and the offer resolver.
type Gateway struct {
	registry *session.Registry
	store    location.Store
	resolver dispatch.OfferResolver
	sink     coremetrics.MetricsSink
	log      corelogger.Logger
	upgrader websocket.Upgrader
}

// NewGateway creates a Gateway. sink may be nil.
func NewGateway(registry *session.Registry, store location.Store, resolver dispatch.OfferResolver, sink coremetrics.MetricsSink, log corelogger.Logger) (*Gateway, error) {
	if registry == nil || store == nil || resolver == nil || log == nil {
		return nil, errors.New("ws: nil parameter provided to NewGateway")
	}
	if sink == nil {
		sink = coremetrics.NopSink{}
	}
	return &Gateway{
		registry: registry,
		store:    store,
		resolver: resolver,
		sink:     sink,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Register mounts the driver endpoint on the mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws/driver", g.handleDriver)
}

// connHandle adapts a websocket connection to the session transport. Writes
// are serialized; gorilla connections support one concurrent writer only.
type connHandle struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (h *connHandle) Send(ctx context.Context, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := h.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return h.conn.WriteMessage(websocket.TextMessage, payload)
}

func (h *connHandle) Close() error { return h.conn.Close() }

func (g *Gateway) handleDriver(w http.ResponseWriter, r *http.Request) {
	driverID := r.URL.Query().Get("driver_id")
	if driverID == "" {
		http.Error(w, "missing driver_id", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warnf("websocket upgrade for driver %s: %v", driverID, err)
		return
	}
	conn.SetReadLimit(readLimit)

	handle := &connHandle{conn: conn}
	sess := g.registry.Register(driverID, handle)
	g.recordConnected()
	g.log.Infof("driver %s connected", driverID)

	ack, err := wire.Marshal(wire.TypeConnectionAck, map[string]any{
		"driver_id":    driverID,
		"connected_at": sess.ConnectedAt.UTC(),
	})
	if err == nil {
		if err := sess.Send(r.Context(), ack); err != nil {
			g.log.Warnf("connection ack to driver %s: %v", driverID, err)
		}
	}

	defer func() {
		conn.Close()
		if g.registry.Unregister(driverID, sess) {
			g.log.Infof("driver %s disconnected", driverID)
		}
		g.recordConnected()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.Debugf("driver %s read: %v", driverID, err)
			}
			return
		}
		g.route(r.Context(), driverID, sess, raw)
	}
}

func (g *Gateway) route(ctx context.Context, driverID string, sess *session.Session, raw []byte) {
	frame, err := wire.Decode(raw)
	if err != nil {
		g.reject(ctx, driverID, sess, "malformed frame")
		return
	}
	switch frame.Type {
	case wire.TypeLocation:
		var p wire.LocationPayload
		if err := frame.Unmarshal(&p); err != nil {
			g.reject(ctx, driverID, sess, "malformed location payload")
			return
		}
		g.handleLocation(ctx, driverID, sess, p)
	case wire.TypeStatus:
		var p wire.StatusPayload
		if err := frame.Unmarshal(&p); err != nil {
			g.reject(ctx, driverID, sess, "malformed status payload")
			return
		}
		g.handleStatus(ctx, driverID, sess, p)
	case wire.TypeOfferResponse:
		var p wire.OfferResponsePayload
		if err := frame.Unmarshal(&p); err != nil || p.OrderID == "" {
			g.reject(ctx, driverID, sess, "malformed offer response")
			return
		}
		g.resolver.Resolve(driverID, p.OrderID, p.Accepted())
	default:
		g.reject(ctx, driverID, sess, "unsupported frame type "+frame.Type)
	}
}

func (g *Gateway) handleLocation(ctx context.Context, driverID string, sess *session.Session, p wire.LocationPayload) {
	availability, err := model.ParseAvailability(p.Availability)
	if err != nil {
		g.reject(ctx, driverID, sess, "unknown availability")
		return
	}
	recordedAt := p.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	loc := model.DriverLocation{
		DriverID:     driverID,
		Position:     geo.Point{Lat: p.Lat, Lon: p.Lon},
		RecordedAt:   recordedAt,
		Availability: availability,
		Tags:         p.Tags,
	}
	switch err := g.store.Upsert(ctx, loc); {
	case errors.Is(err, location.ErrStaleUpdate):
		// Out-of-order ping, the stored record is newer.
		g.log.Debugf("stale ping from driver %s dropped", driverID)
	case err != nil:
		g.log.Warnf("location update for driver %s: %v", driverID, err)
		g.reject(ctx, driverID, sess, "invalid location")
	}
}

func (g *Gateway) handleStatus(ctx context.Context, driverID string, sess *session.Session, p wire.StatusPayload) {
	availability, err := model.ParseAvailability(p.Availability)
	if err != nil {
		g.reject(ctx, driverID, sess, "unknown availability")
		return
	}
	if availability == model.Offline {
		if err := g.store.Remove(ctx, driverID); err != nil {
			g.log.Warnf("offline for driver %s: %v", driverID, err)
		}
		return
	}
	switch err := g.store.SetAvailability(ctx, driverID, availability); {
	case errors.Is(err, location.ErrUnknownDriver):
		// Status before the first ping; nothing to update yet.
		g.log.Debugf("status from driver %s without location record", driverID)
	case err != nil:
		g.log.Warnf("status update for driver %s: %v", driverID, err)
	}
}

// reject reports a bad inbound frame back to the driver app. Best effort; a
// failed write surfaces on the read loop anyway.
func (g *Gateway) reject(ctx context.Context, driverID string, sess *session.Session, msg string) {
	g.log.Warnf("rejecting frame from driver %s: %s", driverID, msg)
	frame, err := wire.Marshal(wire.TypeError, wire.ErrorPayload{Message: msg})
	if err != nil {
		return
	}
	_ = sess.Send(ctx, frame)
}

func (g *Gateway) recordConnected() {
	if r, ok := g.sink.(coremetrics.ConnectedDriversRecorder); ok {
		_ = r.RecordConnectedDrivers(g.registry.Count())
	}
}
