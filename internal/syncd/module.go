package syncd

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/account"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/api"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bridge/loopback"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/bus"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/config"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/contact"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/conversation"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/lock"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/logging"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/persist"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/profile"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/status"
	"github.com/savoirfairelinux/jami-client-android-sub001/internal/store"
	intsync "github.com/savoirfairelinux/jami-client-android-sub001/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Daemon is a native engine the bridge can drive and receive callbacks from.
type Daemon interface {
	bridge.Native
	Attach(cb bridge.Callbacks)
}

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	ConfigPath string // empty = profile.ConfigPath()
	Daemon     Daemon // nil = in-process loopback engine
}

// Module returns the fx module for the sync daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("syncd",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideQueue,
			provideRegistry,
			provideBridge,
			provideAccounts,
			provideContacts,
			provideConversations,
			provideReconciler,
			provideEngine,
			provideInspector,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// The lock is a dependency so the store is never opened by a second process.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.StorePath(p.Profile)
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

func provideQueue(db *store.DB, b *bus.Bus, logger *zap.Logger) *persist.Queue {
	return persist.NewQueue(db, b, logger.Named("persist"))
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func provideBridge(p Params, reg *prometheus.Registry, logger *zap.Logger) *bridge.Bridge {
	d := p.Daemon
	if d == nil {
		d = loopback.New()
	}
	b := bridge.New(d, bridge.NewMetrics(reg), logger.Named("bridge"))
	d.Attach(b)
	return b
}

func provideAccounts(b *bridge.Bridge, db *store.DB, q *persist.Queue, eb *bus.Bus, reg *prometheus.Registry, logger *zap.Logger) *account.Cache {
	return account.New(b, db, q, eb, account.NewMetrics(reg), account.Options{}, logger.Named("account"))
}

func provideContacts(b *bridge.Bridge, db *store.DB, q *persist.Queue, cfg *config.Config, logger *zap.Logger) *contact.Resolver {
	return contact.NewResolver(b, db, q, contact.Options{LookupTimeout: cfg.LookupTimeout()}, logger.Named("contact"))
}

func provideConversations(p Params, b *bridge.Bridge, db *store.DB, q *persist.Queue, accounts *account.Cache,
	contacts *contact.Resolver, cfg *config.Config, eb *bus.Bus, logger *zap.Logger) *conversation.Assembler {
	return conversation.New(b, db, q, accounts, contacts, cfg, eb, conversation.Options{
		TransferDir:     profile.TransferDir(p.Profile),
		RefreshPeriod:   cfg.TransferRefreshPeriod(),
		HistoryPageSize: cfg.HistoryPageSize,
		LookupRate:      rate.Limit(cfg.SearchLookupRPS),
	}, logger.Named("conversation"))
}

func provideReconciler(db *store.DB, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, logger)
}

func provideEngine(b *bridge.Bridge, accounts *account.Cache, contacts *contact.Resolver, convs *conversation.Assembler,
	rec *intsync.Reconciler, m *status.Machine, eb *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(b, accounts, contacts, convs, rec, m, eb, logger.Named("sync"))
}

func provideInspector(p Params, accounts *account.Cache, convs *conversation.Assembler, m *status.Machine, b *bus.Bus, logger *zap.Logger) *api.Inspector {
	return api.NewInspector(p.Profile, accounts, convs, m, b, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, b *bridge.Bridge, q *persist.Queue,
	engine *intsync.Engine, cfg *config.Config, reg *prometheus.Registry, logger *zap.Logger) {
	var metricsSrv *http.Server
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			b.Start()
			q.Start()

			// Start serving before the initial load so clients can watch it.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if cfg.MetricsAddr != "" {
				metricsSrv = &http.Server{
					Addr:    cfg.MetricsAddr,
					Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
				}
				go func() {
					logger.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server error", zap.Error(err))
					}
				}()
			}

			engine.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if metricsSrv != nil {
				_ = metricsSrv.Shutdown(ctx)
			}
			engine.Stop()
			q.Stop()
			b.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
