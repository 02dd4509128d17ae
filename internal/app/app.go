// Package app builds the application context: it opens the configured
// document store and broker and wires every coordinator and adapter
// together. It replaces process-wide singletons; main owns the returned App.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitchsafe/companion/api"
	"github.com/hitchsafe/companion/internal/alert"
	"github.com/hitchsafe/companion/internal/broker"
	"github.com/hitchsafe/companion/internal/config"
	"github.com/hitchsafe/companion/internal/handler"
	"github.com/hitchsafe/companion/internal/identity"
	"github.com/hitchsafe/companion/internal/location"
	"github.com/hitchsafe/companion/internal/notify"
	"github.com/hitchsafe/companion/internal/recording"
	"github.com/hitchsafe/companion/internal/repo"
	"github.com/hitchsafe/companion/internal/service"
	"github.com/hitchsafe/companion/internal/ws"
	"github.com/hitchsafe/companion/migrations"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Server    *handler.Server
	Trips     *service.TripCoordinator
	Emergency *service.EmergencyCoordinator
	Identity  *identity.Provider
	Feed      *location.FeedProvider
	Tracker   *location.Tracker
	Recording *recording.Session
	Hub       *ws.Hub

	closers []func(context.Context) error
	log     *slog.Logger
}

// New opens the store selected by cfg.StoreBackend, connects the broker when
// AMQP_URL is set, and wires the coordinators.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{log: log}

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	trips := repo.NewTripRepo(store)
	users := repo.NewUserRepo(store)
	contacts := repo.NewContactRepo(store)

	a.Identity, err = identity.NewProvider(repo.NewAccountRepo(store), users, cfg.JWTSecret, cfg.TokenTTL, log)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("app.New: %w", err)
	}
	a.Hub = ws.NewHub(a.Identity, trips, log.With("component", "ws"))

	a.Feed = location.NewFeedProvider(cfg.PositionMaxAge, log.With("component", "location"))
	trackCfg := location.DefaultConfig()
	trackCfg.MinDistanceMeters = cfg.MinDistanceMeters
	trackCfg.MinInterval = cfg.MinInterval
	trackCfg.CurrentTimeout = cfg.LocationTimeout
	a.Tracker = location.NewTracker(a.Feed, trips, trackCfg, log.With("component", "tracker"))
	a.Tracker.OnSample(a.Hub.PublishLocation)

	var (
		launcher   alert.Launcher = alert.LogLauncher{Log: log.With("component", "alert")}
		presenters                = notify.Multi{a.Hub}
		events     service.EventPublisher
	)
	if cfg.AMQPURL != "" {
		rabbit, err := broker.NewRabbit(cfg.AMQPURL, log.With("component", "broker"))
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rabbit.Close() })
		launcher = rabbit
		presenters = append(presenters, rabbit)
		events = rabbit
	} else {
		log.Warn("AMQP_URL not set, alerts are only logged")
	}

	zone, err := time.LoadLocation(cfg.AlertTimeZone)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("app.New: alert time zone: %w", err)
	}
	dispatcher := alert.NewDispatcher(launcher, alert.Config{
		TrackingBaseURL: cfg.TrackingBaseURL,
		EmergencyNumber: cfg.EmergencyNumber,
		Location:        zone,
	}, log.With("component", "alert"))

	a.Recording = recording.NewSession(recording.NewFileRecorder(cfg.RecordingDir), cfg.RecordingCeiling, log.With("component", "recording"))

	a.Trips = service.NewTripCoordinator(trips, users, a.Tracker, log.With("component", "trips"))
	a.Emergency = service.NewEmergencyCoordinator(service.EmergencyDeps{
		Trips:    trips,
		Contacts: contacts,
		Tracker:  a.Tracker,
		Session:  a.Recording,
		Alerts:   dispatcher,
		Notifier: presenters,
		Events:   events,
	}, log.With("component", "emergency"))
	a.Recording.OnStop(a.Emergency.RecordingStopped)

	a.closers = append(a.closers, func(ctx context.Context) error {
		a.Tracker.StopTracking()
		_, _, err := a.Recording.Stop(ctx)
		return err
	})

	a.Server = handler.NewServer(handler.Deps{
		Trips:     a.Trips,
		Emergency: a.Emergency,
		Contacts:  service.NewContactService(contacts),
		Users:     service.NewUserService(users),
		Identity:  a.Identity,
		Positions: a.Feed,
		Audio:     a.Recording,
		Caller:    dispatcher,
		Stream:    a.Hub,
		OpenAPI:   api.OpenAPI,
	}, log.With("component", "http"))

	return a, nil
}

// Close stops tracking, finalizes any open recording and closes the broker
// and store connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStore(ctx context.Context, cfg config.Config) (repo.DocumentStore, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		a.log.Warn("using in-memory store, data is lost on exit")
		return repo.NewMemoryStore(), nil

	case config.StoreMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("app.openStore: connect mongo: %w", err)
		}
		a.closers = append(a.closers, client.Disconnect)
		if err := client.Ping(ctx, nil); err != nil {
			return nil, fmt.Errorf("app.openStore: ping mongo: %w", err)
		}
		a.log.Info("mongo connection established", "database", cfg.MongoDatabase)
		return repo.NewMongoStore(client.Database(cfg.MongoDatabase)), nil

	default:
		// New() does not open connections immediately; the ping does.
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app.openStore: create pool: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("app.openStore: ping postgres: %w", err)
		}
		if err := migrate(ctx, pool); err != nil {
			return nil, err
		}
		a.log.Info("database connection established")
		return repo.NewPostgresStore(pool), nil
	}
}

// migrate applies pending goose migrations through a database/sql handle
// borrowed from the pool.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("app.migrate: create goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("app.migrate: %w", err)
	}
	for _, r := range results {
		slog.InfoContext(ctx, "migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}
