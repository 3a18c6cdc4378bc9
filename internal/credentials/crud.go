package credentials

import (
	"context"

	"github.com/dmitrijs2005/otpkeeper/internal/dbx"
	"github.com/dmitrijs2005/otpkeeper/internal/models"
)

// mutate runs a single write and reports whether any row changed.
func (s *Service) mutate(ctx context.Context, op string, fn func(ctx context.Context, tx dbx.DBTX) (int64, error)) bool {
	n, err := s.exec(ctx, op, fn)
	if err != nil {
		s.logger.Warn(ctx, op+" failed", "err", err)
		return false
	}
	if n == 0 {
		s.logger.Debug(ctx, op+" changed nothing")
		return false
	}
	return true
}

func (s *Service) InsertUser(ctx context.Context, u *models.User) bool {
	return s.mutate(ctx, "insert user", func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		return s.rm.Users(tx).Insert(ctx, u)
	})
}

func (s *Service) UpdateUser(ctx context.Context, u *models.User) bool {
	return s.mutate(ctx, "update user", func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		return s.rm.Users(tx).Update(ctx, u)
	})
}

// UpdateOTP stores the delivered code; an empty validUntil leaves the
// subscription window untouched.
func (s *Service) UpdateOTP(ctx context.Context, id int64, otp, validUntil string) bool {
	return s.mutate(ctx, "update otp", func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		return s.rm.Users(tx).UpdateOTP(ctx, id, otp, validUntil)
	})
}

// UpdateUserModel sets one column of the user. Unknown columns are refused
// before reaching the database.
func (s *Service) UpdateUserModel(ctx context.Context, id int64, col models.UserColumn, value any) bool {
	return s.mutate(ctx, "update user column", func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		return s.rm.Users(tx).UpdateColumn(ctx, id, col, value)
	})
}

func (s *Service) GetUsers(ctx context.Context, filter models.UserFilter) ([]*models.User, bool) {
	var users []*models.User
	err := s.call(ctx, "list users", func(ctx context.Context) error {
		var err error
		users, err = s.rm.Users(s.db).List(ctx, filter)
		return err
	})
	if err != nil {
		s.logger.Warn(ctx, "list users failed", "err", err)
		return nil, false
	}
	return users, true
}

func (s *Service) GetUserByID(ctx context.Context, id int64) (*models.User, bool) {
	u, err := s.getByID(ctx, id)
	if err != nil {
		s.logger.Debug(ctx, "get user failed", "user_id", id, "err", err)
		return nil, false
	}
	return u, true
}

// GetUserWithAlerts is GetUserByID with the alert balance and jobs filled
// in. A user without an alert subscription has a zero balance.
func (s *Service) GetUserWithAlerts(ctx context.Context, id int64) (*models.User, bool) {
	u, ok := s.GetUserByID(ctx, id)
	if !ok {
		return nil, false
	}
	sub, _ := s.AlertsForUser(ctx, id)
	u.ApplyAlerts(sub)
	return u, true
}

func (s *Service) GetUserByIDOrUsername(ctx context.Context, idOrUsername string) (*models.User, bool) {
	u, err := s.lookup(ctx, idOrUsername)
	if err != nil {
		s.logger.Debug(ctx, "lookup user failed", "user", idOrUsername, "err", err)
		return nil, false
	}
	return u, true
}

func (s *Service) GetPayingUsers(ctx context.Context) ([]models.PayingUser, bool) {
	var out []models.PayingUser
	err := s.call(ctx, "paying users", func(ctx context.Context) error {
		var err error
		out, err = s.rm.Users(s.db).PayingUsers(ctx)
		return err
	})
	if err != nil {
		s.logger.Warn(ctx, "paying users failed", "err", err)
		return nil, false
	}
	return out, true
}

func (s *Service) AlertsForUser(ctx context.Context, userID int64) (*models.AlertSubscription, bool) {
	var sub *models.AlertSubscription
	err := s.call(ctx, "alerts for user", func(ctx context.Context) error {
		var err error
		sub, err = s.rm.Alerts(s.db).ForUser(ctx, userID)
		return err
	})
	if err != nil {
		s.logger.Debug(ctx, "alerts for user failed", "user_id", userID, "err", err)
		return nil, false
	}
	return sub, true
}

func (s *Service) TopUpAlertSubscriptionBalance(ctx context.Context, userID int64, amount float64) bool {
	return s.mutate(ctx, "top up balance", func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		return s.rm.Alerts(tx).TopUpBalance(ctx, userID, amount)
	})
}

// UpdateAlertSubscriptionModel charges the user for a scanner job and
// subscribes them to it, both or neither.
func (s *Service) UpdateAlertSubscriptionModel(ctx context.Context, userID int64, charge float64, scannerID string) bool {
	return s.mutate(ctx, "charge alert subscription", func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		repo := s.rm.Alerts(tx)
		n, err := repo.Charge(ctx, userID, charge, scannerID)
		if err != nil || n == 0 {
			return n, err
		}
		if _, err := repo.TopUpScannerJob(ctx, scannerID, userID); err != nil {
			return 0, err
		}
		return n, nil
	})
}

func (s *Service) TopUpScannerJobs(ctx context.Context, scannerID string, userID int64) bool {
	return s.mutate(ctx, "top up scanner job", func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		return s.rm.Alerts(tx).TopUpScannerJob(ctx, scannerID, userID)
	})
}

func (s *Service) RemoveScannerJob(ctx context.Context, userID int64, scannerID string) bool {
	return s.mutate(ctx, "remove scanner job", func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		return s.rm.Alerts(tx).RemoveScannerJob(ctx, userID, scannerID)
	})
}

func (s *Service) ResetScannerJobs(ctx context.Context) bool {
	return s.mutate(ctx, "reset scanner jobs", func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		return s.rm.Alerts(tx).ResetScannerJobs(ctx)
	})
}

func (s *Service) ScannerJobsWithActiveUsers(ctx context.Context) ([]models.ScannerJob, bool) {
	var jobs []models.ScannerJob
	err := s.call(ctx, "active scanner jobs", func(ctx context.Context) error {
		var err error
		jobs, err = s.rm.Alerts(s.db).ScannerJobsWithActiveUsers(ctx)
		return err
	})
	if err != nil {
		s.logger.Warn(ctx, "active scanner jobs failed", "err", err)
		return nil, false
	}
	return jobs, true
}

func (s *Service) UsersForScannerJobID(ctx context.Context, scannerID string) ([]string, bool) {
	var ids []string
	err := s.call(ctx, "users for scanner job", func(ctx context.Context) error {
		var err error
		ids, err = s.rm.Alerts(s.db).UsersForScannerJob(ctx, scannerID)
		return err
	})
	if err != nil {
		s.logger.Debug(ctx, "users for scanner job failed", "scanner_id", scannerID, "err", err)
		return nil, false
	}
	return ids, true
}

// AddAlertSummary records that an alert for scannerID went to the user now.
func (s *Service) AddAlertSummary(ctx context.Context, userID int64, scannerID string) bool {
	at := s.clock.Now()
	return s.mutate(ctx, "add alert summary", func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		return s.rm.Alerts(tx).AddAlertSummary(ctx, userID, scannerID, at)
	})
}
