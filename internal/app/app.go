// Package app is the composition root: it builds every otpkeeper component
// from a Config and runs the background loops until the process is told
// to stop.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/otpkeeper/internal/alerts"
	"github.com/dmitrijs2005/otpkeeper/internal/config"
	"github.com/dmitrijs2005/otpkeeper/internal/credentials"
	"github.com/dmitrijs2005/otpkeeper/internal/dbx"
	"github.com/dmitrijs2005/otpkeeper/internal/emergency"
	"github.com/dmitrijs2005/otpkeeper/internal/fallback"
	"github.com/dmitrijs2005/otpkeeper/internal/filex"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
	"github.com/dmitrijs2005/otpkeeper/internal/primary"
	"github.com/dmitrijs2005/otpkeeper/internal/replica"
	"github.com/dmitrijs2005/otpkeeper/internal/repositories/repomanager"
	"github.com/dmitrijs2005/otpkeeper/internal/sidechannel"
	"github.com/dmitrijs2005/otpkeeper/internal/timex"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	clock       timex.Clock
	primary     *sql.DB
	migrator    *schemaMigrator
	cache       *fallback.Cache
	credentials *credentials.Service
	coordinator *replica.Coordinator
}

// NewApp wires the application. An unreachable primary is logged, not
// fatal: requests are then served by the fallback tiers.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(c.LogLevel))
	return newApp(ctx, c, logger, timex.SystemClock{})
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger, clock timex.Clock) (*App, error) {
	db, err := primary.Open(ctx, c.PrimaryDSN, c.PrimaryTimeout)
	if db == nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	migrator := &schemaMigrator{
		migrate: func(ctx context.Context) error { return rm.RunMigrations(ctx, db) },
		logger:  logger,
	}
	if err != nil {
		logger.Warn(ctx, "primary unreachable at startup, migrations deferred", "err", err)
	} else {
		migrator.ensure(ctx)
	}

	if _, err := filex.EnsureDir(c.DocumentDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("document dir: %w", err)
	}

	cache, err := fallback.Open(ctx, c.CachePath, clock, c.ValidationSkew, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache init error: %w", err)
	}

	store, err := sidechannel.New(ctx, c)
	if err != nil {
		logger.Warn(ctx, "side channel disabled", "backend", c.SideChannelBackend, "err", err)
		store = nil
	}

	sink := alerts.MultiSink{alerts.NewLogSink(logger)}
	if c.TelegramToken != "" {
		tg, err := alerts.NewTelegramSink(c.TelegramToken, c.TelegramChatID)
		if err != nil {
			logger.Warn(ctx, "telegram alerts disabled", "err", err)
		} else {
			sink = append(sink, tg)
		}
	}

	policy := dbx.RetryPolicy{
		MaxRetries: c.RetryCount,
		Base:       c.RetryBaseDelay,
		Timeout:    c.PrimaryTimeout,
	}

	issuer := emergency.NewIssuer(emergency.Options{
		Dir:     c.DocumentDir,
		Branch:  c.SideChannelBranch,
		Timeout: c.PrimaryTimeout,
	}, cache, store, clock, logger)

	svc := credentials.NewService(db, rm, cache, issuer, clock, credentials.Options{
		Retry:           policy,
		Skew:            c.ValidationSkew,
		DefaultInterval: c.OTPInterval,
	}, logger)

	coord := replica.NewCoordinator(db, replica.Options{
		Path:           c.ReplicaPath,
		SyncInterval:   c.SyncInterval,
		HealthInterval: c.HealthInterval,
		ProbeTimeout:   c.HealthProbeTimeout,
		Retry:          policy,
		OnPrimaryUp:    migrator.ensure,
	}, sink, clock, logger)

	return &App{
		config:      c,
		logger:      logger,
		clock:       clock,
		primary:     db,
		migrator:    migrator,
		cache:       cache,
		credentials: svc,
		coordinator: coord,
	}, nil
}

// schemaMigrator applies the primary schema. Until one attempt succeeds,
// every call tries again.
type schemaMigrator struct {
	mu      sync.Mutex
	done    bool
	migrate func(ctx context.Context) error
	logger  logging.Logger
}

func (m *schemaMigrator) ensure(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return
	}
	if err := m.migrate(ctx); err != nil {
		m.logger.Warn(ctx, "primary migrations failed", "err", err)
		return
	}
	m.done = true
	m.logger.Info(ctx, "primary migrations applied")
}

// Credentials is the service request handlers call into.
func (app *App) Credentials() *credentials.Service {
	return app.credentials
}

func (app *App) Coordinator() *replica.Coordinator {
	return app.coordinator
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run connects the replica and runs the sync loop, the health monitor and,
// if configured, the free-tier refresher until ctx is done or a stop
// signal arrives. Resources are closed on return.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	if err := app.coordinator.Connect(ctx); err != nil {
		app.logger.Error(ctx, "replica unavailable, sync disabled", "err", err)
	} else {
		wg.Add(2)
		go func() {
			defer wg.Done()
			app.coordinator.RunSyncLoop(ctx)
		}()
		go func() {
			defer wg.Done()
			app.coordinator.RunHealthMonitor(ctx)
		}()
	}

	if app.config.SubscriptionRefreshInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.runRefresher(ctx, app.config.SubscriptionRefreshInterval)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	app.logger.Info(context.Background(), "Stopping app...")
	return app.Close()
}

func (app *App) runRefresher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			app.credentials.RefreshFreeUsers(ctx, app.config.OTPInterval)
		case <-ctx.Done():
			return
		}
	}
}

func (app *App) Close() error {
	return errors.Join(
		app.coordinator.Close(),
		app.cache.Close(),
		app.primary.Close(),
	)
}
