package replica

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/otpkeeper/internal/dbx"
	"github.com/jackc/pgx/v5"
)

// migrationTable is goose's bookkeeping table; it never takes part in
// drift checks.
const migrationTable = "goose_db_version"

// Catalog lists user tables and counts their rows.
type Catalog interface {
	Tables(ctx context.Context) ([]string, error)
	Count(ctx context.Context, table string) (int64, error)
}

type SQLiteCatalog struct {
	db dbx.DBTX
}

func NewSQLiteCatalog(db dbx.DBTX) *SQLiteCatalog {
	return &SQLiteCatalog{db: db}
}

func (c *SQLiteCatalog) Tables(ctx context.Context) ([]string, error) {
	return listNames(ctx, c.db,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name <> ?
		 ORDER BY name`, migrationTable)
}

func (c *SQLiteCatalog) Count(ctx context.Context, table string) (int64, error) {
	return count(ctx, c.db, `SELECT COUNT(1) FROM `+quoteSQLite(table))
}

type PostgresCatalog struct {
	db dbx.DBTX
}

func NewPostgresCatalog(db dbx.DBTX) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) Tables(ctx context.Context) ([]string, error) {
	return listNames(ctx, c.db,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' AND table_name <> $1
		 ORDER BY table_name`, migrationTable)
}

func (c *PostgresCatalog) Count(ctx context.Context, table string) (int64, error) {
	return count(ctx, c.db, `SELECT COUNT(1) FROM `+pgx.Identifier{table}.Sanitize())
}

// Counts returns the row count of every table in cat.
func Counts(ctx context.Context, cat Catalog) (map[string]int64, error) {
	tables, err := cat.Tables(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(tables))
	for _, t := range tables {
		n, err := cat.Count(ctx, t)
		if err != nil {
			return nil, err
		}
		out[t] = n
	}
	return out, nil
}

func listNames(ctx context.Context, db dbx.DBTX, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return names, nil
}

func count(ctx context.Context, db dbx.DBTX, query string) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// quoteSQLite quotes an identifier read from sqlite_master.
func quoteSQLite(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
