package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/dbx"
	"github.com/dmitrijs2005/otpkeeper/internal/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ForUser(ctx context.Context, userID int64) (*models.AlertSubscription, error) {
	query :=
		`SELECT userid, balance, scannerjobs FROM alertsubscriptions
		 WHERE userid = $1`

	s := &models.AlertSubscription{}
	var jobs string
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&s.UserID, &s.Balance, &jobs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	s.ScannerJobs = models.ParseScannerJobs(jobs)
	return s, nil
}

// TopUpBalance creates the subscription row or adds to its balance atomically.
func (r *PostgresRepository) TopUpBalance(ctx context.Context, userID int64, amount float64) (int64, error) {
	query :=
		`INSERT INTO alertsubscriptions (userid, balance)
		 VALUES ($1, $2)
		 ON CONFLICT (userid) DO UPDATE
		 SET balance = alertsubscriptions.balance + excluded.balance`

	res, err := r.db.ExecContext(ctx, query, userID, amount)
	return affected(res, err)
}

// Charge deducts amount and appends scannerID to the user's jobs. Callers
// pair it with TopUpScannerJob in one transaction.
func (r *PostgresRepository) Charge(ctx context.Context, userID int64, amount float64, scannerID string) (int64, error) {
	query :=
		`UPDATE alertsubscriptions
		 SET balance = balance - $1,
		     scannerjobs = CASE WHEN scannerjobs = '' THEN $2::text ELSE scannerjobs || ';' || $2::text END
		 WHERE userid = $3`

	res, err := r.db.ExecContext(ctx, query, amount, strings.ToUpper(scannerID), userID)
	return affected(res, err)
}

// TopUpScannerJob creates the job or appends the user to its subscribers.
func (r *PostgresRepository) TopUpScannerJob(ctx context.Context, scannerID string, userID int64) (int64, error) {
	query :=
		`INSERT INTO scannerjobs (scannerid, users)
		 VALUES ($1, $2)
		 ON CONFLICT (scannerid) DO UPDATE
		 SET users = scannerjobs.users || ';' || excluded.users`

	res, err := r.db.ExecContext(ctx, query, strings.ToUpper(scannerID), strconv.FormatInt(userID, 10))
	return affected(res, err)
}

// RemoveScannerJob unsubscribes a user: strips the job from the user's
// subscription, strips the user from the job and deletes the job once it
// has no subscribers left. Run it inside a transaction.
func (r *PostgresRepository) RemoveScannerJob(ctx context.Context, userID int64, scannerID string) (int64, error) {
	scannerID = strings.ToUpper(scannerID)
	uid := strconv.FormatInt(userID, 10)

	steps := []struct {
		query string
		args  []any
	}{
		{
			`UPDATE alertsubscriptions
			 SET scannerjobs = array_to_string(array_remove(string_to_array(scannerjobs, ';'), $1), ';')
			 WHERE userid = $2`,
			[]any{scannerID, userID},
		},
		{
			`UPDATE scannerjobs
			 SET users = array_to_string(array_remove(string_to_array(users, ';'), $1), ';')
			 WHERE scannerid = $2`,
			[]any{uid, scannerID},
		},
		{
			`DELETE FROM scannerjobs WHERE scannerid = $1 AND users = ''`,
			[]any{scannerID},
		},
	}

	var total int64
	for _, s := range steps {
		n, err := affected(r.db.ExecContext(ctx, s.query, s.args...))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *PostgresRepository) ResetScannerJobs(ctx context.Context) (int64, error) {
	deleted, err := affected(r.db.ExecContext(ctx, `DELETE FROM scannerjobs`))
	if err != nil {
		return 0, err
	}
	cleared, err := affected(r.db.ExecContext(ctx, `UPDATE alertsubscriptions SET scannerjobs = ''`))
	if err != nil {
		return deleted, err
	}
	return deleted + cleared, nil
}

func (r *PostgresRepository) ScannerJobsWithActiveUsers(ctx context.Context) ([]models.ScannerJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT scannerid, users FROM scannerjobs WHERE users <> '' ORDER BY scannerid`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.ScannerJob
	for rows.Next() {
		var j models.ScannerJob
		var users string
		if err := rows.Scan(&j.ScannerID, &users); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		j.UserIDs = models.SplitJobs(users)
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

// UsersForScannerJob returns an empty slice for unknown jobs.
func (r *PostgresRepository) UsersForScannerJob(ctx context.Context, scannerID string) ([]string, error) {
	var users string
	err := r.db.QueryRowContext(ctx,
		`SELECT users FROM scannerjobs WHERE scannerid = $1`, strings.ToUpper(scannerID)).Scan(&users)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return models.SplitJobs(users), nil
}

func (r *PostgresRepository) AddAlertSummary(ctx context.Context, userID int64, scannerID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO alertssummary (userid, scannerid, timestamp) VALUES ($1, $2, $3)`,
		userID, strings.ToUpper(scannerID), at)
	return affected(res, err)
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
