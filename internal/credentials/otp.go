package credentials

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/dbx"
	"github.com/dmitrijs2005/otpkeeper/internal/models"
	"github.com/dmitrijs2005/otpkeeper/internal/timex"
	"github.com/dmitrijs2005/otpkeeper/internal/totp"
)

func (s *Service) getByID(ctx context.Context, id int64) (*models.User, error) {
	var u *models.User
	err := s.call(ctx, "get user", func(ctx context.Context) error {
		var err error
		u, err = s.rm.Users(s.db).GetByID(ctx, id)
		return err
	})
	return u, err
}

func (s *Service) getByUsername(ctx context.Context, username string) (*models.User, error) {
	var u *models.User
	err := s.call(ctx, "get user by username", func(ctx context.Context) error {
		var err error
		u, err = s.rm.Users(s.db).GetByUsername(ctx, username)
		return err
	})
	return u, err
}

// lookup resolves a numeric id first, then a username.
func (s *Service) lookup(ctx context.Context, idOrUsername string) (*models.User, error) {
	key := strings.TrimSpace(idOrUsername)
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		u, err := s.getByID(ctx, id)
		if !errors.Is(err, common.ErrorNotFound) {
			return u, err
		}
	}
	if key == "" {
		return nil, common.ErrorNotFound
	}
	return s.getByUsername(ctx, key)
}

// GetOrCreateUser returns the user, registering it with a fresh secret on
// first sight and repairing a record that lost its secret. Concurrent
// registrations are resolved by re-reading.
func (s *Service) GetOrCreateUser(ctx context.Context, id int64, username, name string) (*models.User, error) {
	log := s.logger.With("user_id", id)

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		u, err := s.getByID(ctx, id)
		switch {
		case err == nil && u.HasSecret():
			return u, nil

		case err == nil:
			secret, err := s.newSecret()
			if err != nil {
				return nil, err
			}
			if _, err := s.exec(ctx, "repair secret", func(ctx context.Context, tx dbx.DBTX) (int64, error) {
				return s.rm.Users(tx).UpdateColumn(ctx, id, models.ColumnTOTPToken, secret)
			}); err != nil {
				log.Warn(ctx, "repair secret failed", "attempt", attempt, "err", err)
			}

		case errors.Is(err, common.ErrorNotFound):
			secret, err := s.newSecret()
			if err != nil {
				return nil, err
			}
			n, err := s.exec(ctx, "insert user", func(ctx context.Context, tx dbx.DBTX) (int64, error) {
				return s.rm.Users(tx).Insert(ctx, &models.User{
					UserID:     id,
					Username:   username,
					Name:       name,
					TOTPSecret: secret,
				})
			})
			if err != nil {
				log.Warn(ctx, "insert user failed", "attempt", attempt, "err", err)
			} else if n == 0 {
				log.Debug(ctx, "user inserted concurrently", "attempt", attempt)
			}

		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("get or create user %d: %w", id, common.ErrorInternal)
}

// IssueOTP delivers the user's current code. A code still inside its
// subscription window is re-delivered unchanged.
func (s *Service) IssueOTP(ctx context.Context, id int64, username, name string, interval int) IssueResult {
	interval = s.interval(interval)
	log := s.logger.With("user_id", id)

	res, err := s.issueFromPrimary(ctx, id, username, name, interval)
	if err == nil {
		return res
	}
	log.Warn(ctx, "primary issuance failed, trying cache", "err", err)

	if otp, model, ok := s.cache.GenerateOTPFromCache(ctx, id, interval); ok {
		log.Info(ctx, "otp issued from cache")
		return IssueResult{OTP: otp, SubscriptionModel: model, Tier: TierCache}
	}

	if s.emergency != nil {
		if otp, model, ok := s.emergency.Issue(ctx, id, username, name, interval); ok {
			return IssueResult{OTP: otp, SubscriptionModel: model, Tier: TierEmergency}
		}
	}

	log.Error(ctx, "no otp available")
	return IssueResult{SubscriptionModel: models.SubscriptionNone, Tier: TierNone}
}

func (s *Service) issueFromPrimary(ctx context.Context, id int64, username, name string, interval int) (IssueResult, error) {
	u, err := s.GetOrCreateUser(ctx, id, username, name)
	if err != nil {
		return IssueResult{}, err
	}

	now := s.clock.Now()
	otp := u.LastOTP
	if otp == "" || !timex.StillValid(u.OTPValidUntil, now) {
		otp, err = totp.Code(u.TOTPSecret, interval, now)
		if err != nil {
			return IssueResult{}, err
		}
	}

	if otp != u.LastOTP {
		if _, err := s.exec(ctx, "update otp", func(ctx context.Context, tx dbx.DBTX) (int64, error) {
			return s.rm.Users(tx).UpdateOTP(ctx, id, otp, "")
		}); err != nil {
			return IssueResult{}, err
		}
		u.LastOTP = otp
	}

	s.cache.CacheUser(ctx, u)

	alerts, _ := s.AlertsForUser(ctx, id)
	u.ApplyAlerts(alerts)
	return IssueResult{
		OTP:                  otp,
		SubscriptionModel:    u.SubscriptionModel.Normalize(),
		SubscriptionValidity: u.OTPValidUntil,
		Alerts:               alerts,
		Tier:                 TierPrimary,
	}, nil
}

// ValidateOTP accepts an exact match, a match inside the tolerance window,
// or the last delivered code. When the primary is unavailable the cache and
// then the emergency document decide.
func (s *Service) ValidateOTP(ctx context.Context, idOrUsername, otp string, interval int) bool {
	interval = s.interval(interval)

	u, err := s.lookup(ctx, idOrUsername)
	if err == nil {
		return totp.Accept(u.TOTPSecret, u.LastOTP, otp, interval, s.clock.Now(), s.opts.Skew)
	}
	if errors.Is(err, common.ErrorNotFound) {
		return false
	}
	s.logger.Warn(ctx, "primary validation failed, trying cache", "user", idOrUsername, "err", err)

	if valid, found := s.cache.ValidateFromCache(ctx, idOrUsername, otp, interval); found && valid {
		return true
	}

	id, perr := strconv.ParseInt(strings.TrimSpace(idOrUsername), 10, 64)
	if perr != nil || s.emergency == nil {
		return false
	}
	return s.emergency.ValidateFromSideChannel(ctx, id, otp)
}

// RefreshOTPForUser rotates the user's code and publishes a fresh document
// sealed with it.
func (s *Service) RefreshOTPForUser(ctx context.Context, u *models.User, interval int) bool {
	log := s.logger.With("user_id", u.UserID)

	otp, err := totp.Code(u.TOTPSecret, s.interval(interval), s.clock.Now())
	if err != nil {
		log.Warn(ctx, "refresh otp failed", "err", err)
		return false
	}
	if !s.UpdateOTP(ctx, u.UserID, otp, "") {
		return false
	}
	u.LastOTP = otp

	if s.emergency == nil {
		return true
	}
	if err := s.emergency.WriteDocument(ctx, u, otp); err != nil {
		log.Warn(ctx, "refresh document failed", "err", err)
		return false
	}
	s.emergency.Publish(ctx, u.UserID)
	return true
}

// RefreshFreeUsers rotates the code of every user without a paid tier and
// returns how many were refreshed.
func (s *Service) RefreshFreeUsers(ctx context.Context, interval int) int {
	users, ok := s.GetUsers(ctx, models.UserFilter{})
	if !ok {
		return 0
	}
	refreshed := 0
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		if u.SubscriptionModel.IsPaid() || !u.HasSecret() {
			continue
		}
		if s.RefreshOTPForUser(ctx, u, interval) {
			refreshed++
		}
	}
	s.logger.Info(ctx, "free users refreshed", "count", refreshed, "total", len(users))
	return refreshed
}
