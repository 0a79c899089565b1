// Package app wires the engine, transports and sinks together from the
// configuration.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/motovia/dispatch/api/assignments"
	"github.com/motovia/dispatch/api/drivers"
	"github.com/motovia/dispatch/config"
	"github.com/motovia/dispatch/core/dispatch"
	corelocation "github.com/motovia/dispatch/core/location"
	coremetrics "github.com/motovia/dispatch/core/metrics"
	"github.com/motovia/dispatch/core/session"
	"github.com/motovia/dispatch/infra/bus"
	infralocation "github.com/motovia/dispatch/infra/location"
	"github.com/motovia/dispatch/infra/logger"
	"github.com/motovia/dispatch/infra/metrics"
	"github.com/motovia/dispatch/infra/ws"
	"github.com/motovia/dispatch/internal/eventbus"
)

// Service orchestrates the dispatch engine and its adapters.
type Service struct {
	Engine *dispatch.Engine

	client   *bus.Client
	intake   *bus.Intake
	outtake  *bus.Outtake
	server   *http.Server
	bus      eventbus.EventBus
	sink     coremetrics.MetricsSink
	log      logger.Logger
	promAddr string
	fatal    chan error
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	var sinks []coremetrics.MetricsSink
	if cfg.Metrics.PrometheusAddr != "" {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.Influx.Enabled() {
		sink := metrics.NewInfluxSinkWithFallback(
			cfg.Metrics.Influx.URL,
			cfg.Metrics.Influx.Token,
			cfg.Metrics.Influx.Org,
			cfg.Metrics.Influx.Bucket,
		)
		sinks = append(sinks, sink)
	}
	var sink coremetrics.MetricsSink
	switch len(sinks) {
	case 0:
		sink = coremetrics.NopSink{}
	case 1:
		sink = sinks[0]
	default:
		sink = metrics.NewMultiSink(sinks...)
	}

	var store corelocation.Store
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s, err := infralocation.NewRedisStore(client, cfg.Dispatch.LocationStaleness())
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		store = s
		logg.Infof("using redis location store at %s", cfg.Redis.Addr)
	} else {
		store = corelocation.NewMemoryStore(cfg.Dispatch.LocationStaleness())
		logg.Infof("using in-memory location store")
	}

	registry := session.NewRegistry()
	offers, err := dispatch.NewSessionOfferChannel(registry, logger.New("offers"))
	if err != nil {
		return nil, fmt.Errorf("offer channel: %w", err)
	}
	selector, err := dispatch.NewSelector(store, registry, cfg.Dispatch, logger.New("selector"))
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}

	internal := eventbus.New()
	engine, err := dispatch.NewEngine(cfg.Dispatch, selector, offers, store, internal, sink, logger.New("engine"))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	gateway, err := ws.NewGateway(registry, store, offers, sink, logger.New("ws"))
	if err != nil {
		return nil, fmt.Errorf("ws gateway: %w", err)
	}

	client, err := bus.Dial(cfg.Bus, logger.New("bus"))
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	intake, err := bus.NewIntake(client, engine, logger.New("intake"))
	if err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}
	outtake, err := bus.NewOuttake(internal, client, logger.New("outtake"))
	if err != nil {
		return nil, fmt.Errorf("outtake: %w", err)
	}

	mux := http.NewServeMux()
	gateway.Register(mux)
	mux.Handle("/api/drivers", drivers.NewListHandler(store, registry))
	mux.Handle("/api/assignments", assignments.NewListHandler(engine))
	server := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	return &Service{
		Engine:   engine,
		client:   client,
		intake:   intake,
		outtake:  outtake,
		server:   server,
		bus:      internal,
		sink:     sink,
		log:      logg,
		promAddr: cfg.Metrics.PrometheusAddr,
		fatal:    make(chan error, 1),
	}, nil
}

// Run starts the adapters and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	metrics.StartEventCollector(ctx, s.bus, s.sink)

	go func() {
		if err := s.intake.Run(ctx); err != nil {
			// Without the intake the engine never sees another order,
			// so a dead broker connection takes the whole service down.
			s.log.Errorf("intake stopped: %v", err)
			select {
			case s.fatal <- fmt.Errorf("order intake: %w", err):
			default:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(shutdownCtx)
		}
	}()
	go func() {
		if err := s.outtake.Run(ctx); err != nil {
			s.log.Errorf("outtake stopped: %v", err)
		}
	}()
	if s.promAddr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log.Infof("listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	select {
	case err := <-s.fatal:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if err := s.Engine.Close(); err != nil {
		return err
	}
	return s.client.Close()
}
