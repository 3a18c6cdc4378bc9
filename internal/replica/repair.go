package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/dbx"
	"github.com/dmitrijs2005/otpkeeper/internal/filex"
)

const recoveredSuffix = ".recovered"

type index struct {
	name string
	sql  string
}

// RepairLocalCorruption checks the replica and, if it is damaged, rebuilds
// every user index in one transaction. When that does not restore
// integrity the replica is copied with VACUUM INTO and the verified copy
// replaces it. A failed repair leaves the damaged file where it is.
func (c *Coordinator) RepairLocalCorruption(ctx context.Context) error {
	c.work.Lock()
	defer c.work.Unlock()
	return c.repair(ctx)
}

func (c *Coordinator) repair(ctx context.Context) error {
	db := c.Replica()
	if db == nil {
		return ErrNotConnected
	}

	problems, err := integrityProblems(ctx, db)
	if err == nil && len(problems) == 0 {
		return nil
	}
	c.alert(ctx, fmt.Sprintf("%v: %s", common.ErrIntegrityViolation, describe(problems, err)))

	if err := rebuildIndexes(ctx, db); err != nil {
		c.logger.Warn(ctx, "index rebuild failed", "err", err)
	} else if problems, err := integrityProblems(ctx, db); err == nil && len(problems) == 0 {
		c.alert(ctx, "replica indexes rebuilt, integrity restored")
		return nil
	}

	if err := c.replaceFromCopy(ctx, db); err != nil {
		c.alert(ctx, fmt.Sprintf("replica repair failed, damaged file left in place: %v", err))
		return fmt.Errorf("%w: %w", common.ErrIntegrityViolation, err)
	}
	c.alert(ctx, "replica restored from a verified copy")
	return nil
}

// integrityProblems runs PRAGMA integrity_check and returns every line
// that is not "ok".
func integrityProblems(ctx context.Context, db dbx.DBTX) ([]string, error) {
	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	return problems, rows.Err()
}

func describe(problems []string, err error) string {
	if err != nil {
		return err.Error()
	}
	return strings.Join(problems, "; ")
}

func rebuildIndexes(ctx context.Context, db *sql.DB) error {
	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		indexes, err := userIndexes(ctx, tx)
		if err != nil {
			return err
		}
		for _, ix := range indexes {
			if _, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS `+quoteSQLite(ix.name)); err != nil {
				return fmt.Errorf("drop %s: %w", ix.name, err)
			}
			if _, err := tx.ExecContext(ctx, ix.sql); err != nil {
				return fmt.Errorf("create %s: %w", ix.name, err)
			}
		}
		return nil
	})
}

// userIndexes lists explicitly created indexes; automatic ones have no SQL.
func userIndexes(ctx context.Context, db dbx.DBTX) ([]index, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, sql FROM sqlite_master
		 WHERE type = 'index' AND name NOT LIKE 'sqlite_%' AND sql IS NOT NULL
		 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []index
	for rows.Next() {
		var ix index
		if err := rows.Scan(&ix.name, &ix.sql); err != nil {
			return nil, err
		}
		out = append(out, ix)
	}
	return out, rows.Err()
}

func (c *Coordinator) replaceFromCopy(ctx context.Context, db *sql.DB) error {
	path := c.opts.Path
	backup := path + recoveredSuffix

	if err := os.Remove(backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if _, err := db.ExecContext(ctx, `PRAGMA wal_checkpoint(FULL)`); err != nil {
		c.logger.Debug(ctx, "wal checkpoint failed", "err", err)
	}
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, backup); err != nil {
		return fmt.Errorf("copy replica: %w", err)
	}

	if err := verifyCopy(ctx, backup); err != nil {
		_ = os.Remove(backup)
		return err
	}

	c.mu.Lock()
	c.replica = nil
	c.mu.Unlock()
	_ = db.Close()

	renameErr := os.Rename(backup, path)
	if renameErr == nil {
		for _, side := range []string{path + "-wal", path + "-shm"} {
			_ = os.Remove(side)
		}
	}

	if err := c.openReplica(ctx); err != nil {
		return errors.Join(renameErr, err)
	}
	return renameErr
}

func verifyCopy(ctx context.Context, path string) error {
	if ok, err := filex.Exists(path); err != nil || !ok {
		return fmt.Errorf("copy %s missing: %v", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	problems, err := integrityProblems(ctx, db)
	if err != nil {
		return fmt.Errorf("verify copy: %w", err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("verify copy: %s", strings.Join(problems, "; "))
	}
	return nil
}
