package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/couriermsg/courier/internal/bus"
	"github.com/couriermsg/courier/internal/config"
	"github.com/couriermsg/courier/internal/keys"
	"github.com/couriermsg/courier/internal/lock"
	"github.com/couriermsg/courier/internal/logging"
	"github.com/couriermsg/courier/internal/profile"
	"github.com/couriermsg/courier/internal/status"
	"github.com/couriermsg/courier/internal/store"
	intsync "github.com/couriermsg/courier/internal/sync"
	"github.com/couriermsg/courier/internal/transport"
)

// defaultBaseURL is used when config.toml carries no transport section.
const defaultBaseURL = "http://127.0.0.1:8787"

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	DBPath      string // optional override for testing; empty = use profile default
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideConfig,
			provideLock,
			provideStore,
			provideTransport,
			provideKeyManager,
			provideMonitor,
			provideEngine,
			provideProbe,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		logger.Info("no config file, using defaults", zap.Error(err))
		return &config.Config{}
	}
	return cfg
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.DBPath
	if dbPath == "" {
		dbPath = profile.DBPath(p.ProfileName)
	}
	db, err := store.Open(dbPath)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTransport(cfg *config.Config) *transport.HTTPClient {
	base := cfg.Transport.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return transport.NewHTTP(base, time.Duration(cfg.Transport.TimeoutSeconds)*time.Second)
}

func provideKeyManager(db *store.DB, logger *zap.Logger) *keys.Manager {
	return keys.NewManager(db, logger)
}

func provideMonitor(db *store.DB, b *bus.Bus, logger *zap.Logger) *status.Monitor {
	return status.NewMonitor(db, b, logger)
}

func provideEngine(db *store.DB, remote *transport.HTTPClient, monitor *status.Monitor, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, remote, monitor, b, logger)
}

func provideProbe(cfg *config.Config, remote *transport.HTTPClient, engine *intsync.Engine, logger *zap.Logger) *Probe {
	interval := time.Duration(cfg.Transport.ProbeIntervalSeconds) * time.Second
	return NewProbe(remote, engine, logger, interval)
}

// bootstrapIdentity makes sure the configured local user has an active
// key pair, so inbound key exchanges can be answered right away.
func bootstrapIdentity(km *keys.Manager, cfg *config.Config, logger *zap.Logger) {
	if cfg.UserID == "" {
		logger.Info("no user_id configured, skipping key bootstrap")
		return
	}
	if _, err := km.EnsureKeyPair(cfg.UserID); err != nil {
		logger.Warn("identity key bootstrap failed", zap.Error(err))
	}
}

func registerLifecycle(lc fx.Lifecycle, p Params, lk *lock.Lock, db *store.DB, cfg *config.Config, km *keys.Manager, monitor *status.Monitor, engine *intsync.Engine, probe *Probe, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			bootstrapIdentity(km, cfg, logger)

			// Monitor before engine: the engine publishes status
			// transitions from its very first pass.
			monitor.Start(context.Background())
			engine.Start(context.Background())
			probe.Start(context.Background())

			logger.Info("daemon started", zap.String("profile", p.ProfileName))
			return nil
		},
		OnStop: func(_ context.Context) error {
			probe.Stop()
			engine.Stop()
			monitor.Stop()
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
