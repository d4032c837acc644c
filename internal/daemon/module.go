// Package daemon composes the huddled process: configuration, storage,
// the coordination services, and the HTTP server, wired through fx.
package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/huddle-chat/huddle/internal/auth"
	"github.com/huddle-chat/huddle/internal/bus"
	"github.com/huddle-chat/huddle/internal/config"
	"github.com/huddle-chat/huddle/internal/fanout"
	"github.com/huddle-chat/huddle/internal/gateway"
	"github.com/huddle-chat/huddle/internal/ledger"
	"github.com/huddle-chat/huddle/internal/lock"
	"github.com/huddle-chat/huddle/internal/logging"
	"github.com/huddle-chat/huddle/internal/metrics"
	"github.com/huddle-chat/huddle/internal/registry"
	"github.com/huddle-chat/huddle/internal/relation"
	"github.com/huddle-chat/huddle/internal/signaling"
	"github.com/huddle-chat/huddle/internal/store"
)

// Params holds the resolved flags passed to the fx module.
type Params struct {
	ConfigPath string
	Listen     string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			providePromRegistry,
			provideMetrics,
			provideRegistry,
			provideRelations,
			provideLedger,
			provideRelay,
			provideFanout,
			provideAuth,
			provideGateway,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		path = filepath.Join(home, ".huddle", "huddled.toml")
	}

	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		return nil, err
	}

	if p.Listen != "" {
		cfg.Listen = p.Listen
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath(), "huddled")
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", cfg.DBPath()))
	return db, nil
}

func providePromRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func provideRegistry(b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *registry.Registry {
	return registry.New(b, m, logger)
}

func provideRelations(db *store.DB, b *bus.Bus, logger *zap.Logger) *relation.Store {
	return relation.New(db, b, logger)
}

func provideLedger(db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *ledger.Ledger {
	return ledger.New(db, b, m, logger)
}

func provideRelay(reg *registry.Registry, db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *signaling.Relay {
	return signaling.New(reg, db, b, m, logger)
}

func provideFanout(reg *registry.Registry, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *fanout.Fanout {
	return fanout.New(reg, b, m, logger)
}

func provideAuth(db *store.DB) auth.Authenticator {
	return auth.New(db)
}

func provideGateway(cfg *config.Config, a auth.Authenticator, db *store.DB, reg *registry.Registry, relations *relation.Store, messages *ledger.Ledger, relay *signaling.Relay, promReg *prometheus.Registry, logger *zap.Logger) *gateway.Gateway {
	return gateway.New(cfg, a, db, reg, relations, messages, relay, promReg, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, f *fanout.Fanout, relay *signaling.Relay, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			f.Start(context.Background())
			relay.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			relay.Stop()
			f.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
