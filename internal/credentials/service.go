// Package credentials is the authoritative OTP issuer and validator. Every
// request goes to the primary first; when the primary cannot be reached the
// request falls through to the local cache and then to the emergency tier.
package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/dbx"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
	"github.com/dmitrijs2005/otpkeeper/internal/models"
	"github.com/dmitrijs2005/otpkeeper/internal/repositories/repomanager"
	"github.com/dmitrijs2005/otpkeeper/internal/timex"
	"github.com/dmitrijs2005/otpkeeper/internal/totp"
)

const maxCreateAttempts = 3

// Tier names the source of an issued OTP.
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierCache     Tier = "cache"
	TierEmergency Tier = "emergency"
	TierNone      Tier = "none"
)

// IssueResult is what IssueOTP hands back. With every tier exhausted OTP is
// empty and Tier is TierNone.
type IssueResult struct {
	OTP                  string
	SubscriptionModel    models.SubscriptionModel
	SubscriptionValidity string
	Alerts               *models.AlertSubscription
	Tier                 Tier
}

func (r IssueResult) OK() bool { return r.OTP != "" }

// Cache is the local fallback tier.
type Cache interface {
	CacheUser(ctx context.Context, u *models.User) bool
	GenerateOTPFromCache(ctx context.Context, id int64, interval int) (string, models.SubscriptionModel, bool)
	ValidateFromCache(ctx context.Context, idOrUsername, otp string, interval int) (valid bool, found bool)
}

// Emergency is the last-resort tier.
type Emergency interface {
	Issue(ctx context.Context, id int64, username, name string, interval int) (string, models.SubscriptionModel, bool)
	ValidateFromSideChannel(ctx context.Context, id int64, candidate string) bool
	WriteDocument(ctx context.Context, u *models.User, otp string) error
	Publish(ctx context.Context, id int64) bool
}

type Options struct {
	Retry           dbx.RetryPolicy
	Skew            uint
	DefaultInterval int
}

type Service struct {
	db        *sql.DB
	rm        repomanager.RepositoryManager
	cache     Cache
	emergency Emergency
	clock     timex.Clock
	opts      Options
	logger    logging.Logger

	newSecret func() (string, error)
}

// NewService wires the tiers together. emergency may be nil.
func NewService(db *sql.DB, rm repomanager.RepositoryManager, cache Cache, emergency Emergency,
	clock timex.Clock, opts Options, logger logging.Logger) *Service {
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = totp.DefaultInterval
	}
	return &Service{
		db:        db,
		rm:        rm,
		cache:     cache,
		emergency: emergency,
		clock:     clock,
		opts:      opts,
		logger:    logger.With("component", "credentials"),
		newSecret: totp.NewSecret,
	}
}

// call runs fn against the primary with the bounded retry policy. Anything
// but a not-found or a rejected column is reported as the primary being
// unavailable.
func (s *Service) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := dbx.Retry(ctx, s.opts.Retry, fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrorNotFound), errors.Is(err, common.ErrorInvalidColumn):
		return err
	default:
		return fmt.Errorf("%s: %w: %w", op, common.ErrConnectionUnavailable, err)
	}
}

// exec runs fn in its own short transaction and returns the affected rows.
func (s *Service) exec(ctx context.Context, op string, fn func(ctx context.Context, tx dbx.DBTX) (int64, error)) (int64, error) {
	var n int64
	err := s.call(ctx, op, func(ctx context.Context) error {
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			n, err = fn(ctx, tx)
			return err
		})
	})
	return n, err
}

func (s *Service) interval(v int) int {
	if v <= 0 {
		return s.opts.DefaultInterval
	}
	return v
}
