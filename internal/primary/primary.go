// Package primary opens connections to the authoritative PostgreSQL store.
package primary

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// Open returns a handle to the primary. Idle connections are not kept, so
// every logical operation dials, uses and releases its own connection.
// The handle is returned even when the first ping fails; the caller decides
// whether an unreachable primary is fatal.
func Open(ctx context.Context, dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sqlOpen(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open primary: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err = db.PingContext(pingCtx)

	db.SetMaxIdleConns(0)
	db.SetConnMaxLifetime(time.Minute)
	if err != nil {
		return db, fmt.Errorf("ping primary: %w", err)
	}
	return db, nil
}
