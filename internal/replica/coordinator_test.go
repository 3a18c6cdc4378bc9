package replica

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/dbx"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
	"github.com/dmitrijs2005/otpkeeper/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRefused = errors.New("dial tcp: connection refused")

type recordingSink struct {
	mu       sync.Mutex
	messages []string
}

func (s *recordingSink) Send(_ context.Context, message, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return nil
}

func (s *recordingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func (s *recordingSink) containing(sub string) int {
	n := 0
	for _, m := range s.all() {
		if strings.Contains(m, sub) {
			n++
		}
	}
	return n
}

func newTestCoordinator(t *testing.T) (*Coordinator, sqlmock.Sqlmock, *recordingSink) {
	t.Helper()
	primary, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	sink := &recordingSink{}
	c := NewCoordinator(primary, Options{
		Path:         filepath.Join(t.TempDir(), "replica.db"),
		ProbeTimeout: time.Second,
		Retry:        dbx.RetryPolicy{Base: time.Millisecond},
	}, sink, timex.FixedClock{T: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}, logging.Discard())

	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = c.Close()
		_ = primary.Close()
	})
	return c, mock, sink
}

func expectPing(mock sqlmock.Sqlmock, err error) {
	e := mock.ExpectQuery(`SELECT 1`)
	if err != nil {
		e.WillReturnError(err)
		return
	}
	e.WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
}

func expectPull(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT userid, username, name, email, mobile, otpvaliduntil, totptoken, subscriptionmodel, lastotp FROM users`).
		WillReturnRows(sqlmock.NewRows(syncedTables[0].columns).
			AddRow(int64(1), "alice", "Alice", "", "", "2026-12-31", "SECRET1", "600", "123456").
			AddRow(int64(2), "bob", "Bob", "", "", "", "SECRET2", "0", ""))
	mock.ExpectQuery(`SELECT userid, balance, scannerjobs FROM alertsubscriptions`).
		WillReturnRows(sqlmock.NewRows(syncedTables[1].columns).
			AddRow(int64(1), 10.5, "SCAN1"))
	mock.ExpectQuery(`SELECT scannerid, users FROM scannerjobs`).
		WillReturnRows(sqlmock.NewRows(syncedTables[2].columns).
			AddRow("SCAN1", "1"))
	mock.ExpectQuery(`SELECT userid, scannerid, timestamp FROM alertssummary`).
		WillReturnRows(sqlmock.NewRows(syncedTables[3].columns))
}

func expectRemoteCounts(mock sqlmock.Sqlmock, counts map[string]int64) {
	names := []string{"alertssummary", "alertsubscriptions", "scannerjobs", "users"}
	rows := sqlmock.NewRows([]string{"table_name"})
	for _, n := range names {
		rows.AddRow(n)
	}
	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs(migrationTable).
		WillReturnRows(rows)
	for _, n := range names {
		mock.ExpectQuery(`SELECT COUNT\(1\) FROM "` + n + `"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(counts[n]))
	}
}

func TestConnect_PrimaryUp(t *testing.T) {
	c, mock, sink := newTestCoordinator(t)
	expectPing(mock, nil)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnecting, c.State())
	assert.NotNil(t, c.Replica())
	assert.Empty(t, sink.all())
}

func TestConnect_PrimaryDown(t *testing.T) {
	c, mock, sink := newTestCoordinator(t)
	expectPing(mock, errRefused)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StatePrimaryDown, c.State())
	assert.Equal(t, 1, sink.containing("primary unreachable"))
}

func TestSyncOnce_Consistent(t *testing.T) {
	ctx := context.Background()
	c, mock, sink := newTestCoordinator(t)
	expectPing(mock, nil)
	require.NoError(t, c.Connect(ctx))

	expectPull(mock)
	expectRemoteCounts(mock, map[string]int64{"users": 2, "alertsubscriptions": 1, "scannerjobs": 1, "alertssummary": 0})

	require.NoError(t, c.SyncOnce(ctx))
	assert.Equal(t, StateConsistent, c.State())
	assert.Equal(t, 1, sink.containing("sync completed successfully"))

	var username string
	require.NoError(t, c.Replica().QueryRowContext(ctx, `SELECT username FROM users WHERE userid = 1`).Scan(&username))
	assert.Equal(t, "alice", username)

	// A second clean round does not alert again.
	expectPull(mock)
	expectRemoteCounts(mock, map[string]int64{"users": 2, "alertsubscriptions": 1, "scannerjobs": 1, "alertssummary": 0})

	require.NoError(t, c.SyncOnce(ctx))
	assert.Equal(t, 1, sink.containing("sync completed successfully"))
}

func TestSyncOnce_Drift(t *testing.T) {
	ctx := context.Background()
	c, mock, sink := newTestCoordinator(t)
	expectPing(mock, nil)
	require.NoError(t, c.Connect(ctx))

	expectPull(mock)
	expectRemoteCounts(mock, map[string]int64{"users": 3, "alertsubscriptions": 1, "scannerjobs": 1, "alertssummary": 0})

	err := c.SyncOnce(ctx)
	require.ErrorIs(t, err, common.ErrDriftDetected)
	assert.Equal(t, StateDrifted, c.State())
	assert.Equal(t, 1, sink.containing("Mismatch in table 'users': Local=2, Remote=3"))

	expectRemoteCounts(mock, map[string]int64{"users": 3, "alertsubscriptions": 1, "scannerjobs": 1, "alertssummary": 0})
	report, err := c.CheckDriftStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, report.Mismatched)
	assert.Equal(t, TableCounts{Local: 1, Remote: 1}, report.Tables["scannerjobs"])
}

func TestSyncOnce_PrimaryFailure(t *testing.T) {
	ctx := context.Background()
	c, mock, sink := newTestCoordinator(t)
	expectPing(mock, nil)
	require.NoError(t, c.Connect(ctx))

	mock.ExpectQuery(`FROM users`).WillReturnError(errRefused)

	err := c.SyncOnce(ctx)
	require.ErrorIs(t, err, common.ErrConnectionUnavailable)
	assert.Equal(t, StatePrimaryDown, c.State())
	assert.Equal(t, 1, sink.containing("primary unreachable"))

	// Recovery restores the state the coordinator was in.
	expectPing(mock, nil)
	assert.True(t, c.HealthCheck(ctx))
	assert.Equal(t, StateSyncing, c.State())
}

func TestCheckDriftStatus_WaitsForRunningWork(t *testing.T) {
	ctx := context.Background()
	c, mock, _ := newTestCoordinator(t)
	expectPing(mock, nil)
	require.NoError(t, c.Connect(ctx))
	expectRemoteCounts(mock, map[string]int64{})

	c.work.Lock()
	type result struct {
		report DriftReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := c.CheckDriftStatus(ctx)
		done <- result{r, err}
	}()

	require.Never(t, func() bool { return len(done) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	c.work.Unlock()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.True(t, r.report.InSync())
	case <-time.After(5 * time.Second):
		t.Fatal("drift check did not finish")
	}
}

func TestSyncOnce_NotConnected(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	require.ErrorIs(t, c.SyncOnce(context.Background()), ErrNotConnected)
}

func TestHealthCheck_AlertsOncePerEdge(t *testing.T) {
	ctx := context.Background()
	c, mock, sink := newTestCoordinator(t)
	expectPing(mock, nil)
	require.NoError(t, c.Connect(ctx))

	expectPing(mock, errRefused)
	expectPing(mock, errRefused)
	expectPing(mock, errRefused)
	assert.False(t, c.HealthCheck(ctx))
	assert.False(t, c.HealthCheck(ctx))
	assert.False(t, c.HealthCheck(ctx))
	assert.Equal(t, StatePrimaryDown, c.State())
	assert.Equal(t, 1, sink.containing("primary unreachable"))

	expectPing(mock, nil)
	expectPing(mock, nil)
	assert.True(t, c.HealthCheck(ctx))
	assert.True(t, c.HealthCheck(ctx))
	assert.Equal(t, StateConnecting, c.State())
	assert.Equal(t, 1, sink.containing("back online"))
	assert.Len(t, sink.all(), 2)
}

func TestHealthCheck_RunsPrimaryUpHookAfterRecovery(t *testing.T) {
	ctx := context.Background()
	c, mock, _ := newTestCoordinator(t)
	calls := 0
	c.opts.OnPrimaryUp = func(context.Context) { calls++ }

	expectPing(mock, errRefused)
	require.False(t, c.HealthCheck(ctx))
	assert.Zero(t, calls)

	expectPing(mock, nil)
	require.True(t, c.HealthCheck(ctx))
	assert.Equal(t, 1, calls)
}

func TestRunHealthMonitor_StopsOnCancel(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.opts.HealthInterval = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.RunHealthMonitor(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("health monitor did not stop")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestSQLiteCatalog(t *testing.T) {
	ctx := context.Background()
	db, err := openSQLite(ctx, filepath.Join(t.TempDir(), "r.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, `INSERT INTO scannerjobs (scannerid, users) VALUES ('A', '1'), ('B', '2')`)
	require.NoError(t, err)

	counts, err := Counts(ctx, NewSQLiteCatalog(db))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"alertssummary": 0, "alertsubscriptions": 0, "scannerjobs": 2, "users": 0,
	}, counts)
}

func TestPostgresCatalog_QuotesIdentifiers(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(1\) FROM "odd""name"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := NewPostgresCatalog(db).Count(context.Background(), `odd"name`)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnect_MigratesReplica(t *testing.T) {
	ctx := context.Background()
	c, mock, _ := newTestCoordinator(t)
	expectPing(mock, nil)
	require.NoError(t, c.Connect(ctx))

	var mode string
	require.NoError(t, c.Replica().QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)

	var count int
	err := c.Replica().QueryRowContext(ctx, `SELECT COUNT(1) FROM goose_db_version`).Scan(&count)
	require.NoError(t, err)
	assert.Positive(t, count)
}
