// Package server wires the player data service together: configuration,
// storage backend, data manager, presence sources, autosave and the
// health and metrics endpoints.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dmitrijs2005/playersync/internal/datasync"
	"github.com/dmitrijs2005/playersync/internal/datasync/objectsync"
	"github.com/dmitrijs2005/playersync/internal/datasync/sqlsync"
	"github.com/dmitrijs2005/playersync/internal/dbx"
	"github.com/dmitrijs2005/playersync/internal/identity"
	"github.com/dmitrijs2005/playersync/internal/logging"
	"github.com/dmitrijs2005/playersync/internal/metrics"
	"github.com/dmitrijs2005/playersync/internal/playerdata"
	"github.com/dmitrijs2005/playersync/internal/presence"
	"github.com/dmitrijs2005/playersync/internal/server/config"
	"github.com/dmitrijs2005/playersync/internal/server/httpserver"
	"github.com/dmitrijs2005/playersync/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	gs "github.com/dmitrijs2005/playersync/internal/server/grpc"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	config   *config.Config
	logger   *logging.SlogLogger
	cache    *identity.Cache
	registry *prometheus.Registry
	players  *playerdata.Manager
	tracker  *presence.Tracker
	grpc     *gs.GRPCServer
	http     *httpserver.Server
}

// NewApp builds the service from c. The storage backend is set up (and the
// SQL schema migrated) before NewApp returns.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, c.Debug)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("metrics init error: %w", err)
	}

	handler, err := newHandler(ctx, c, logger, m)
	if err != nil {
		return nil, err
	}

	cache := identity.NewCache(identity.WithTTL(c.PresenceTTL))
	players, err := playerdata.NewManager(ctx, cache, handler,
		datasync.WithLogger(logger),
		datasync.WithMetrics(m),
		datasync.WithPool(worker.NewPool(c.WorkerPoolSize)),
	)
	if err != nil {
		_ = handler.Close()
		return nil, err
	}

	return &App{
		config:   c,
		logger:   logger,
		cache:    cache,
		registry: registry,
		players:  players,
		tracker:  presence.NewTracker(cache, logger, presence.Managed(players)),
		grpc:     gs.NewGRPCServer(c.HealthAddrGRPC, logger),
		http:     httpserver.NewServer(c.MetricsAddr, registry, logger),
	}, nil
}

// newHandler builds the storage backend selected by c.Backend.
func newHandler(ctx context.Context, c *config.Config, l logging.Logger, m *metrics.Metrics) (playerdata.Handler, error) {
	switch c.Backend {
	case config.BackendSQL:
		dialect, err := dbx.ParseDialect(c.Dialect)
		if err != nil {
			return nil, err
		}
		db, err := dbx.Open(ctx, dialect, c.DatabaseDSN, dbx.PoolOptions{
			MaxOpenConns:    c.MaxOpenConns,
			ConnMaxLifetime: c.ConnMaxLifetime,
			ConnectTimeout:  c.ConnectTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		interval := c.SyncBackoff
		return playerdata.NewSQLHandler(playerdata.SQLOptions{
			DB:      db,
			Dialect: dialect,
			SyncOpts: []sqlsync.SyncOption{
				sqlsync.WithMaxTries(c.MaxSyncTries),
				sqlsync.WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(interval) }),
			},
		}, l, m), nil

	case config.BackendFile:
		return playerdata.NewFileHandler(c.DataDir, l), nil

	case config.BackendObject:
		client, err := objectsync.NewClient(ctx, objectsync.ClientOptions{
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
		return playerdata.NewObjectHandler(playerdata.ObjectOptions{
			Client: client,
			Bucket: c.S3Bucket,
			Prefix: c.S3Prefix,
		}, l), nil
	}
	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}

// Players returns the player data manager.
func (app *App) Players() *playerdata.Manager {
	return app.players
}

// Tracker returns the presence tracker that presence sources report to.
func (app *App) Tracker() *presence.Tracker {
	return app.tracker
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until ctx is done or a signal arrives, then saves every loaded
// holder and releases the backend.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "backend", app.config.Backend)

	app.initSignalHandler(cancelFunc)
	app.cache.StartSweeper(app.config.SweepInterval)

	// identities already online (e.g. after a reload) get their data back
	app.players.AttachAll(ctx)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				app.logger.Error(ctx, name+" failed", "error", err)
				cancelFunc()
			}
		}()
	}

	run("grpc server", app.grpc.Run)
	run("http server", app.http.Run)
	if app.config.AutosaveInterval > 0 {
		run("autosave", app.autosave)
	}
	if app.config.ListenAddr != "" {
		run("game server", app.runGameServer)
	}

	app.grpc.SetServing(true)
	app.http.SetReady(true)

	<-ctx.Done()
	app.logger.Info(ctx, "Stopping app...")
	app.grpc.SetServing(false)
	app.http.SetReady(false)

	wg.Wait()
	return app.shutdown()
}

func (app *App) autosave(ctx context.Context) error {
	ticker := time.NewTicker(app.config.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := app.players.SaveAll(ctx, true); err != nil {
				app.logger.Warn(ctx, "autosave incomplete", "error", err)
			}
		}
	}
}

func (app *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := app.players.Shutdown(ctx)
	if cerr := app.cache.Close(); cerr != nil {
		app.logger.Warn(ctx, "closing identity cache failed", "error", cerr)
	}
	if err != nil {
		app.logger.Error(ctx, "shutdown incomplete", "error", err)
		return err
	}
	app.logger.Info(ctx, "App stopped")
	return nil
}
