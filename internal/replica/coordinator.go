package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/otpkeeper/internal/alerts"
	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/dbx"
	"github.com/dmitrijs2005/otpkeeper/internal/filex"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
	"github.com/dmitrijs2005/otpkeeper/internal/replica/migrations"
	"github.com/dmitrijs2005/otpkeeper/internal/timex"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

var ErrNotConnected = errors.New("replica not connected")

type Options struct {
	Path           string
	SyncInterval   time.Duration
	HealthInterval time.Duration
	ProbeTimeout   time.Duration
	Retry          dbx.RetryPolicy

	// OnPrimaryUp, if set, runs after every successful contact with the
	// primary. It must be idempotent.
	OnPrimaryUp func(ctx context.Context)
}

type Coordinator struct {
	primary *sql.DB
	opts    Options
	sink    alerts.Sink
	clock   timex.Clock
	logger  logging.Logger

	// work serializes sync and repair. It is never held while sleeping.
	work sync.Mutex

	mu      sync.Mutex
	state   State
	prev    State
	replica *sql.DB
}

func NewCoordinator(primary *sql.DB, opts Options, sink alerts.Sink, clock timex.Clock, logger logging.Logger) *Coordinator {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	return &Coordinator{
		primary: primary,
		opts:    opts,
		sink:    sink,
		clock:   clock,
		logger:  logger.With("component", "replica"),
		state:   StateDisconnected,
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Replica is the local copy for read-only consumers. Nil before Connect.
func (c *Coordinator) Replica() *sql.DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replica
}

// Connect opens the replica file, migrates it and probes the primary. An
// unreachable primary is not an error; the coordinator starts in
// PrimaryDown and recovers once a probe succeeds.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	if err := c.openReplica(ctx); err != nil {
		c.setState(StateDisconnected)
		c.alert(ctx, fmt.Sprintf("connect: replica unavailable: %v", err))
		return err
	}

	c.HealthCheck(ctx)
	return nil
}

func (c *Coordinator) Close() error {
	c.mu.Lock()
	db := c.replica
	c.replica = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if db == nil {
		return nil
	}
	return db.Close()
}

func (c *Coordinator) openReplica(ctx context.Context) error {
	db, err := openSQLite(ctx, c.opts.Path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	old := c.replica
	c.replica = db
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if err := filex.EnsureParent(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open replica: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("replica migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate replica: %w", err)
	}
	return db, nil
}

// setState moves to s. While the primary is down the move is remembered
// and applied once the primary is back.
func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePrimaryDown && s != StateDisconnected {
		c.prev = s
		return
	}
	c.state = s
}

// observePrimary records a probe result and alerts on the edge only.
func (c *Coordinator) observePrimary(ctx context.Context, up bool, cause error) {
	c.mu.Lock()
	var msg string
	switch {
	case !up && c.state != StatePrimaryDown:
		c.prev = c.state
		c.state = StatePrimaryDown
		msg = fmt.Sprintf("primary unreachable: %v", cause)
	case up && c.state == StatePrimaryDown:
		c.state = c.prev
		msg = "primary is back online"
	}
	c.mu.Unlock()

	if msg != "" {
		c.alert(ctx, msg)
	}
	if up && c.opts.OnPrimaryUp != nil {
		c.opts.OnPrimaryUp(ctx)
	}
}

func (c *Coordinator) alert(ctx context.Context, msg string) {
	if c.sink == nil {
		c.logger.Warn(ctx, msg)
		return
	}
	if err := c.sink.Send(ctx, msg, ""); err != nil {
		c.logger.Error(ctx, "alert delivery failed", "err", err)
	}
}

func (c *Coordinator) unavailable(err error) error {
	if errors.Is(err, common.ErrConnectionUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", common.ErrConnectionUnavailable, err)
}
