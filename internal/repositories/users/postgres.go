package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/dbx"
	"github.com/dmitrijs2005/otpkeeper/internal/models"
)

const userColumns = `userid, username, name, email, mobile, otpvaliduntil, totptoken, subscriptionmodel, lastotp`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*models.User, error) {
	u := &models.User{}
	var model string
	if err := s.Scan(&u.UserID, &u.Username, &u.Name, &u.Email, &u.Mobile,
		&u.OTPValidUntil, &u.TOTPSecret, &model, &u.LastOTP); err != nil {
		return nil, err
	}
	u.SubscriptionModel = models.SubscriptionModel(model)
	return u, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE userid = $1`
	return r.getOne(ctx, query, id)
}

// GetByUsername matches case-insensitively; usernames are stored lower-cased.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		 WHERE username = $1
		 ORDER BY userid
		 LIMIT 1`
	return r.getOne(ctx, query, strings.ToLower(username))
}

// Insert is a no-op (0 rows) when the user already exists.
func (r *PostgresRepository) Insert(ctx context.Context, u *models.User) (int64, error) {
	query :=
		`INSERT INTO users (` + userColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (userid) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		u.UserID, strings.ToLower(u.Username), u.Name, u.Email, u.Mobile,
		u.OTPValidUntil, u.TOTPSecret, string(u.SubscriptionModel), u.LastOTP)
	return affected(res, err)
}

func (r *PostgresRepository) Update(ctx context.Context, u *models.User) (int64, error) {
	query :=
		`UPDATE users SET
		   username = $1, name = $2, email = $3, mobile = $4,
		   otpvaliduntil = $5, totptoken = $6, subscriptionmodel = $7, lastotp = $8
		 WHERE userid = $9`

	res, err := r.db.ExecContext(ctx, query,
		strings.ToLower(u.Username), u.Name, u.Email, u.Mobile,
		u.OTPValidUntil, u.TOTPSecret, string(u.SubscriptionModel), u.LastOTP, u.UserID)
	return affected(res, err)
}

// UpdateOTP stores the delivered code. An empty validUntil keeps the
// current subscription window.
func (r *PostgresRepository) UpdateOTP(ctx context.Context, id int64, otp string, validUntil string) (int64, error) {
	if validUntil == "" {
		res, err := r.db.ExecContext(ctx, `UPDATE users SET lastotp = $1 WHERE userid = $2`, otp, id)
		return affected(res, err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET lastotp = $1, otpvaliduntil = $2 WHERE userid = $3`, otp, validUntil, id)
	return affected(res, err)
}

// UpdateColumn sets a single whitelisted column. The key column itself
// cannot be changed.
func (r *PostgresRepository) UpdateColumn(ctx context.Context, id int64, col models.UserColumn, value any) (int64, error) {
	if !col.Valid() || col == models.ColumnUserID {
		return 0, fmt.Errorf("%w: %q", common.ErrorInvalidColumn, col)
	}
	if s, ok := value.(string); ok && col == models.ColumnUsername {
		value = strings.ToLower(s)
	}

	query := fmt.Sprintf(`UPDATE users SET %s = $1 WHERE userid = $2`, col)
	res, err := r.db.ExecContext(ctx, query, value, id)
	return affected(res, err)
}

func (r *PostgresRepository) List(ctx context.Context, filter models.UserFilter) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if !filter.IsZero() {
		if !filter.Column.Valid() {
			return nil, fmt.Errorf("%w: %q", common.ErrorInvalidColumn, filter.Column)
		}
		query += fmt.Sprintf(` WHERE %s = $1`, filter.Column)
		args = append(args, filter.Value)
	}
	query += ` ORDER BY userid`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) PayingUsers(ctx context.Context) ([]models.PayingUser, error) {
	query :=
		`SELECT u.userid, u.subscriptionmodel, COALESCE(a.balance, 0)
		 FROM users u
		 LEFT JOIN alertsubscriptions a ON a.userid = u.userid
		 WHERE COALESCE(a.balance, 0) > 0
		    OR (u.subscriptionmodel <> '' AND u.subscriptionmodel <> '0')
		 ORDER BY u.userid`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.PayingUser
	for rows.Next() {
		var p models.PayingUser
		var model string
		if err := rows.Scan(&p.UserID, &model, &p.Balance); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		p.SubscriptionModel = models.SubscriptionModel(model)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
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
