// Package app provides the unified application lifecycle management for Tessera.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arkilian/tessera/internal/aggregate"
	httpapi "github.com/arkilian/tessera/internal/api/http"
	"github.com/arkilian/tessera/internal/catalog"
	"github.com/arkilian/tessera/internal/config"
	"github.com/arkilian/tessera/internal/maintenance"
	"github.com/arkilian/tessera/internal/observability"
	"github.com/arkilian/tessera/internal/partition"
	"github.com/arkilian/tessera/internal/server"
	"github.com/arkilian/tessera/internal/storage"
	"github.com/arkilian/tessera/internal/table"
	"github.com/arkilian/tessera/pkg/types"
)

// App manages the Tessera service lifecycle.
type App struct {
	cfg *config.Config
	log *slog.Logger

	// Shared resources
	registry *prometheus.Registry
	metrics  *observability.Metrics
	stats    *observability.ScanTracker
	storage  storage.ObjectStorage
	catalog  *catalog.Catalog
	shutdown *server.ShutdownManager

	// Core components
	store        *table.Store
	manager      *maintenance.Manager
	notifier     *maintenance.Notifier
	cache        *aggregate.Cache
	checkpointer *table.Checkpointer

	httpServer *http.Server

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	return &App{
		cfg: cfg,
		log: log,
	}, nil
}

// Start initializes shared resources and starts the service.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if err := a.initTable(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize table: %w", err)
	}

	a.startRefresher(ctx)
	a.startMaintenanceWatcher(ctx)
	a.startHTTPServer()

	a.log.Info("tessera started", "table", a.cfg.Table.Name, "addr", a.cfg.HTTP.Addr)
	return nil
}

// initSharedResources initializes metrics, storage, the catalog, and
// the shutdown manager.
func (a *App) initSharedResources(ctx context.Context) error {
	a.registry = prometheus.NewRegistry()
	a.metrics = observability.NewMetrics(a.registry)
	a.stats = observability.NewScanTracker(time.Hour)

	var err error
	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		if a.cfg.Storage.S3.Endpoint != "" {
			s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		}
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.log.Info("storage initialized", "type", a.cfg.Storage.Type)

	a.catalog, err = catalog.Open(a.cfg.CatalogPath())
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	a.log.Info("catalog opened", "path", a.cfg.CatalogPath())

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{}, a.log)
	a.shutdown.RegisterCloser(a.catalog)

	return nil
}

// initTable builds the partition function and scheme from config and
// wires the store, maintenance manager, aggregate cache, and
// checkpointer around them.
func (a *App) initTable() error {
	boundaries := make([]int64, 0, len(a.cfg.Table.Boundaries))
	for _, date := range a.cfg.Table.Boundaries {
		key, err := types.KeyForDate(date)
		if err != nil {
			return fmt.Errorf("invalid boundary: %w", err)
		}
		boundaries = append(boundaries, key)
	}

	fn, err := partition.NewFunction(partition.Config{
		Boundaries: boundaries,
		Policy:     partition.BoundaryPolicy(a.cfg.Table.Policy),
		CatchAll:   a.cfg.Table.CatchAll,
	})
	if err != nil {
		return err
	}

	scheme, err := partition.NewScheme(partition.SchemeConfig{
		Mode:      partition.PlacementMode(a.cfg.Table.Scheme.Mode),
		Locations: a.cfg.Table.Scheme.Locations,
	}, fn)
	if err != nil {
		return err
	}

	a.store, err = table.New(a.cfg.Table.Name, fn, scheme, table.Options{
		Logger:  a.log,
		Metrics: a.metrics,
		Stats:   a.stats,
	})
	if err != nil {
		return err
	}
	a.shutdown.RegisterCloser(a.store)

	a.notifier = maintenance.NewNotifier(16)
	a.manager = maintenance.New(a.store, a.catalog, a.log).WithNotifier(a.notifier)
	a.checkpointer = table.NewCheckpointer(a.store, a.storage, a.catalog, a.log)

	cacheOpts := aggregate.Options{Logger: a.log, Metrics: a.metrics}
	if a.cfg.Aggregate.Persist {
		cacheOpts.Catalog = a.catalog
	}
	a.cache = aggregate.New(a.store, cacheOpts)

	a.log.Info("table initialized",
		"table", a.cfg.Table.Name,
		"partitions", fn.PartitionCount(),
		"policy", a.cfg.Table.Policy,
		"catch_all", a.cfg.Table.CatchAll)
	return nil
}

// startRefresher runs the periodic aggregate cache refresh. A failed
// refresh leaves the cache degraded; queries recompute from base rows
// until the next successful run.
func (a *App) startRefresher(ctx context.Context) {
	interval := a.cfg.Aggregate.RefreshInterval
	if interval <= 0 {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.cache.Refresh(ctx, time.Now()); err != nil {
					a.log.Error("aggregate refresh failed", "error", err)
				}
			}
		}
	}()
	a.log.Info("aggregate refresher started", "interval", interval)
}

// startMaintenanceWatcher subscribes to boundary version changes and
// records each applied split or merge in the service log. Splits and
// merges move rows between partitions without changing totals, so the
// aggregate cache needs no invalidation here.
func (a *App) startMaintenanceWatcher(ctx context.Context) {
	sub := a.notifier.Subscribe("app-watcher")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.notifier.Unsubscribe(sub.ID)

		for {
			select {
			case <-ctx.Done():
				return
			case notif, ok := <-sub.Ch:
				if !ok {
					return
				}
				a.log.Info("boundary version changed",
					"op", notif.Type.String(),
					"boundary", notif.Boundary,
					"version", notif.NewVersion)
			}
		}
	}()
}

// startHTTPServer starts the API server under the shutdown manager.
func (a *App) startHTTPServer() {
	handlers := httpapi.NewHandlers(a.store, a.manager, a.cache, a.checkpointer, a.stats, a.cfg.Scan.Concurrency)
	router := httpapi.NewRouter(handlers, a.registry)

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	graceful := server.NewGracefulHTTPServer(a.httpServer, a.shutdown)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.Info("http server listening", "addr", a.cfg.HTTP.Addr)
		if err := graceful.ListenAndServe(); err != nil {
			a.log.Error("http server error", "error", err)
		}
	}()
}

// Stop gracefully stops the service and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}

	err := a.shutdown.Shutdown(ctx, "stop requested")

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		a.log.Warn("shutdown timeout, some goroutines may not have finished")
	}

	a.log.Info("tessera stopped")
	return err
}

// cleanup releases resources after a failed start.
func (a *App) cleanup() {
	if a.store != nil {
		a.store.Close()
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}

// Store exposes the table store, for programmatic embedding and tests.
func (a *App) Store() *table.Store {
	return a.store
}

// Cache exposes the aggregate cache.
func (a *App) Cache() *aggregate.Cache {
	return a.cache
}
