package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/dbx"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type table struct {
	name    string
	columns []string
}

// syncedTables are copied from the primary in this order.
var syncedTables = []table{
	{"users", []string{"userid", "username", "name", "email", "mobile", "otpvaliduntil", "totptoken", "subscriptionmodel", "lastotp"}},
	{"alertsubscriptions", []string{"userid", "balance", "scannerjobs"}},
	{"scannerjobs", []string{"scannerid", "users"}},
	{"alertssummary", []string{"userid", "scannerid", "timestamp"}},
}

type snapshot map[string][][]any

// SyncOnce pulls every synced table from the primary, replaces the replica
// rows in one transaction and checks for drift. A primary failure marks
// the primary down; drift leaves the coordinator in Drifted.
func (c *Coordinator) SyncOnce(ctx context.Context) error {
	c.work.Lock()
	defer c.work.Unlock()

	db := c.Replica()
	if db == nil {
		return ErrNotConnected
	}

	log := c.logger.With("cycle", uuid.NewString())
	start := c.clock.Now()
	wasConsistent := c.State() == StateConsistent
	c.setState(StateSyncing)

	snap, err := c.pull(ctx)
	if err != nil {
		err = c.unavailable(err)
		c.observePrimary(ctx, false, fmt.Errorf("sync: %w", err))
		return err
	}
	c.observePrimary(ctx, true, nil)

	if err := c.apply(ctx, db, snap); err != nil {
		log.Error(ctx, "replica apply failed", "err", err)
		c.alert(ctx, fmt.Sprintf("sync failed: %v", err))
		if isCorrupt(err) {
			if rerr := c.repair(ctx); rerr != nil {
				return errors.Join(err, rerr)
			}
		}
		return err
	}

	report, err := c.checkDrift(ctx, db)
	if errors.Is(err, common.ErrIntegrityViolation) {
		if rerr := c.repair(ctx); rerr != nil {
			return errors.Join(err, rerr)
		}
		report, err = c.checkDrift(ctx, c.Replica())
	}
	if err != nil {
		return err
	}
	if !report.InSync() {
		log.Warn(ctx, "replica drifted", "tables", report.Mismatched)
		c.setState(StateDrifted)
		c.alert(ctx, "drift detected:\n"+report.String())
		return fmt.Errorf("%w: %v", common.ErrDriftDetected, report.Mismatched)
	}

	c.setState(StateConsistent)
	elapsed := c.clock.Now().Sub(start)
	if !wasConsistent {
		c.alert(ctx, fmt.Sprintf("sync completed successfully in %.2f seconds", elapsed.Seconds()))
	}
	log.Info(ctx, "replica in sync", "elapsed", elapsed)
	return nil
}

func (c *Coordinator) pull(ctx context.Context) (snapshot, error) {
	snap := snapshot{}
	for _, t := range syncedTables {
		var rows [][]any
		err := dbx.Retry(ctx, c.opts.Retry, func(ctx context.Context) error {
			var err error
			rows, err = selectAll(ctx, c.primary, t)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("pull %s: %w", t.name, err)
		}
		snap[t.name] = rows
	}
	return snap, nil
}

func selectAll(ctx context.Context, db dbx.DBTX, t table) ([][]any, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+strings.Join(t.columns, ", ")+` FROM `+t.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(t.columns))
		ptrs := make([]any, len(t.columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func (c *Coordinator) apply(ctx context.Context, db *sql.DB, snap snapshot) error {
	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, t := range syncedTables {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+t.name); err != nil {
				return fmt.Errorf("clear %s: %w", t.name, err)
			}
			marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
			insert := `INSERT INTO ` + t.name + ` (` + strings.Join(t.columns, ", ") + `) VALUES (` + marks + `)`
			for _, row := range snap[t.name] {
				if _, err := tx.ExecContext(ctx, insert, row...); err != nil {
					return fmt.Errorf("copy %s: %w", t.name, err)
				}
			}
		}
		return nil
	})
}

// CheckDriftStatus compares row counts of every user table in the replica
// and the primary. It waits for any running sync or repair.
func (c *Coordinator) CheckDriftStatus(ctx context.Context) (DriftReport, error) {
	c.work.Lock()
	defer c.work.Unlock()

	db := c.Replica()
	if db == nil {
		return DriftReport{}, ErrNotConnected
	}
	return c.checkDrift(ctx, db)
}

func (c *Coordinator) checkDrift(ctx context.Context, db *sql.DB) (DriftReport, error) {
	local, err := Counts(ctx, NewSQLiteCatalog(db))
	if err != nil {
		if isCorrupt(err) {
			err = fmt.Errorf("%w: %w", common.ErrIntegrityViolation, err)
		}
		return DriftReport{}, fmt.Errorf("replica counts: %w", err)
	}

	var remote map[string]int64
	err = dbx.Retry(ctx, c.opts.Retry, func(ctx context.Context) error {
		var err error
		remote, err = Counts(ctx, NewPostgresCatalog(c.primary))
		return err
	})
	if err != nil {
		err = c.unavailable(err)
		c.observePrimary(ctx, false, fmt.Errorf("drift check: %w", err))
		return DriftReport{}, err
	}

	report := CompareCounts(local, remote)
	for _, m := range report.Messages() {
		c.logger.Debug(ctx, m)
	}
	return report, nil
}

// isCorrupt reports whether err is SQLite's corruption signal.
func isCorrupt(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlite3.SQLITE_CORRUPT || code == sqlite3.SQLITE_NOTADB
}
