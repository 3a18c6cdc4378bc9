package replica

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUsers(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO users (userid, username, name) VALUES (1, 'alice', 'Zed'), (2, 'bob', 'Amy'), (3, 'carol', 'Kim')`)
	require.NoError(t, err)
}

// corruptIndex rewrites the stored definition of idx_users_username so it
// no longer matches the index contents.
func corruptIndex(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ExecContext(ctx, `PRAGMA writable_schema = ON`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx,
		`UPDATE sqlite_master SET sql = 'CREATE INDEX idx_users_username ON users (name)' WHERE name = 'idx_users_username'`)
	require.NoError(t, err)
}

func tableCount(t *testing.T, db *sql.DB, table string) int64 {
	t.Helper()
	n, err := NewSQLiteCatalog(db).Count(context.Background(), table)
	require.NoError(t, err)
	return n
}

func TestRepairLocalCorruption_Healthy(t *testing.T) {
	ctx := context.Background()
	c, _, sink := newTestCoordinator(t)
	require.NoError(t, c.openReplica(ctx))

	require.NoError(t, c.RepairLocalCorruption(ctx))
	assert.Empty(t, sink.all())
}

func TestRepairLocalCorruption_RebuildsIndexes(t *testing.T) {
	ctx := context.Background()
	c, _, sink := newTestCoordinator(t)
	require.NoError(t, c.openReplica(ctx))
	seedUsers(t, c.Replica())
	require.NoError(t, c.Close())

	corruptIndex(t, c.opts.Path)
	require.NoError(t, c.openReplica(ctx))

	problems, err := integrityProblems(ctx, c.Replica())
	require.NoError(t, err)
	require.NotEmpty(t, problems)

	require.NoError(t, c.RepairLocalCorruption(ctx))

	problems, err = integrityProblems(ctx, c.Replica())
	require.NoError(t, err)
	assert.Empty(t, problems)
	assert.Equal(t, int64(3), tableCount(t, c.Replica(), "users"))
	assert.Equal(t, 1, sink.containing("integrity violation"))
	assert.Equal(t, 1, sink.containing("indexes rebuilt"))
}

func TestReplaceFromCopy_KeepsRows(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator(t)
	require.NoError(t, c.openReplica(ctx))
	seedUsers(t, c.Replica())

	require.NoError(t, c.replaceFromCopy(ctx, c.Replica()))

	require.NotNil(t, c.Replica())
	assert.Equal(t, int64(3), tableCount(t, c.Replica(), "users"))
	_, err := os.Stat(c.opts.Path + recoveredSuffix)
	assert.True(t, os.IsNotExist(err))

	problems, err := integrityProblems(ctx, c.Replica())
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestRepairLocalCorruption_NotConnected(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	require.ErrorIs(t, c.RepairLocalCorruption(context.Background()), ErrNotConnected)
}
