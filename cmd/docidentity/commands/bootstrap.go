package commands

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/danghamo/docidentity/internal/docstore/backend"
	"github.com/danghamo/docidentity/internal/domain/identity"
	"github.com/danghamo/docidentity/internal/events"
	"github.com/danghamo/docidentity/internal/metrics"
	"github.com/danghamo/docidentity/internal/store"
	"github.com/danghamo/docidentity/pkg/config"
	"github.com/danghamo/docidentity/pkg/logger"
)

type identityStores = store.Stores[identity.User, identity.Role, *identity.User, *identity.Role]

// environment is everything a command needs once configuration is loaded.
type environment struct {
	cfg    *config.Config
	log    *logger.Logger
	handle *backend.Handle
	stores *identityStores
	bus    *events.Bus
	audit  *events.AuditHandler
}

// bootstrap loads configuration, opens the backend and registers the stores.
// withEvents controls whether change events are published when enabled in config.
func bootstrap(ctx context.Context, withEvents bool) (*environment, error) {
	cfg, log, err := config.Initialize()
	if err != nil {
		return nil, err
	}

	handle, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Store.Backend, err)
	}

	env := &environment{cfg: cfg, log: log, handle: handle}

	opts := []store.Option{
		store.WithPartitioning(cfg.Store.Partitioned),
		store.WithNormalizer(identity.UpperInvariantNormalizer{}),
		store.WithLogger(log),
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		opts = append(opts,
			store.WithLookupMetrics(metrics.NewLookupMetrics()),
			store.WithStoreMetrics(metrics.NewStoreMetrics()),
		)
	}

	if withEvents && cfg.Events.Enabled {
		if err := env.openBus(); err != nil {
			_ = handle.Close()
			return nil, err
		}
		opts = append(opts, store.WithPublisher(env.bus))
	}

	stores, err := store.Register[identity.User, identity.Role, *identity.User, *identity.Role](
		identity.AddIdentity[identity.User, identity.Role](), handle.Client, opts...)
	if err != nil {
		if env.bus != nil {
			_ = env.bus.Close()
		}
		env.close()
		return nil, err
	}
	env.stores = stores

	log.Info("Identity stores ready",
		zap.String("backend", cfg.Store.Backend),
		zap.String("collection", cfg.Store.Collection),
		zap.Bool("partitioned", cfg.Store.Partitioned),
		zap.Bool("events", env.bus != nil),
	)
	return env, nil
}

func (e *environment) openBus() error {
	busCfg := events.Config{
		TopicPrefix:   e.cfg.Events.TopicPrefix,
		ConsumerGroup: e.cfg.Redis.Streams.ConsumerGroup,
		MaxLen:        e.cfg.Redis.Streams.MaxLen,
	}

	var (
		bus *events.Bus
		err error
	)
	if e.handle.Redis != nil {
		bus, err = events.NewRedisBus(busCfg, e.handle.Redis, e.log)
	} else {
		bus, err = events.NewGoChannelBus(busCfg, e.log)
	}
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}

	audit := events.NewAuditHandler(e.log, 256)
	if err := bus.AddHandlers(audit.Handlers()...); err != nil {
		_ = bus.Close()
		return fmt.Errorf("failed to register audit handlers: %w", err)
	}

	e.bus = bus
	e.audit = audit
	return nil
}

// close releases the backend. The server closes the bus itself on shutdown.
func (e *environment) close() {
	if err := e.handle.Close(); err != nil {
		e.log.Error("Failed to close backend", zap.Error(err))
	}
	_ = e.log.Sync()
}
