package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/safetyhub/internal/config"
	"github.com/safetyhub/internal/geofence"
	"github.com/safetyhub/internal/handler"
	"github.com/safetyhub/internal/hub"
	"github.com/safetyhub/internal/logger"
	"github.com/safetyhub/internal/metrics"
	"github.com/safetyhub/internal/push"
	"github.com/safetyhub/internal/repository"
	"github.com/safetyhub/internal/startup"
	"github.com/safetyhub/internal/storage"
	"github.com/safetyhub/internal/storage/memory"
	"github.com/safetyhub/internal/ws"
	"github.com/safetyhub/migrations"
)

const connectWait = 60 * time.Second

func main() {
	logger.SetPrefix("hub")
	dev := flag.Bool("dev", false, "use an embedded PostgreSQL as storage (no external DB required)")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	logger.Info("starting safety hub")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *dev {
		db, err := startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := db.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		logger.Errorf("storage: %v", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Infof("storage: %s", cfg.Storage.Driver)

	zones, err := geofence.LoadCatalog(cfg.ZonesPath)
	if err != nil {
		logger.Errorf("zones: %v", err)
		os.Exit(1)
	}
	logger.Infof("geofence: %d zones", len(zones))

	keys, err := push.ResolveVAPIDKeys(cfg.Push)
	if err != nil {
		logger.Errorf("push disabled: %v", err)
	}
	notifier := push.NewNotifier(store, keys, cfg.Push.Subscriber, nil)
	vapidPublic := ""
	if notifier.Enabled() {
		vapidPublic = keys.PublicKey
	}

	h := hub.New(hub.Options{
		HeartbeatInterval:    cfg.Liveness.HeartbeatInterval,
		LivenessTimeout:      cfg.Liveness.Timeout,
		SweepInterval:        cfg.Liveness.SweepInterval,
		SOSForceResolveAfter: cfg.Liveness.SOSForceResolveAfter,
		StatsInterval:        cfg.StatsInterval,
		MaxConnections:       cfg.MaxWSConnections,
		PushEnabled:          notifier.Enabled(),
	}, zones, store, notifier, metrics.New(prometheus.DefaultRegisterer))

	srv := &http.Server{
		Addr: cfg.ServerAddr,
		Handler: handler.NewRouter(handler.Deps{
			Ctx:            ctx,
			Hub:            h,
			Store:          store,
			VAPIDPublicKey: vapidPublic,
			WS: ws.Options{
				SendBuffer:     cfg.WSSendBufferSize,
				WriteTimeout:   cfg.WSWriteTimeout,
				MaxMessageSize: cfg.WSMaxMessageSize,
			},
			AllowedOrigins: cfg.CORSAllowedOrigins,
			Metrics:        promhttp.Handler(),
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(gctx)
		logger.Info("hub stopped")
		return nil
	})
	g.Go(func() error {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("server stopped accepting connections")
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

// openStore connects the configured backend. Postgres gets its migrations applied.
func openStore(ctx context.Context, sc config.StorageConfig) (storage.Store, error) {
	switch sc.Driver {
	case "", "memory":
		return memory.New(), nil
	case "redis":
		c, err := startup.ConnectRedis(ctx, sc.RedisURL, connectWait)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "postgres":
		pool, err := startup.ConnectDB(ctx, sc.DatabaseURL, sc.MaxConnections, connectWait)
		if err != nil {
			return nil, err
		}
		if err := repository.Migrate(ctx, pool, migrations.Files); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("database connected, migrations applied")
		return repository.NewStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
	}
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "safetyhub"
		password = "safetyhub_secret"
		database = "safetyhub"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Storage.Driver = "postgres"
	cfg.Storage.DatabaseURL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
