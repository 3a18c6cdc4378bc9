package users

import (
	"context"

	"github.com/dmitrijs2005/otpkeeper/internal/models"
)

// Repository is the users table on the primary. Mutations report the number
// of affected rows.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Insert(ctx context.Context, u *models.User) (int64, error)
	Update(ctx context.Context, u *models.User) (int64, error)
	UpdateOTP(ctx context.Context, id int64, otp string, validUntil string) (int64, error)
	UpdateColumn(ctx context.Context, id int64, col models.UserColumn, value any) (int64, error)
	List(ctx context.Context, filter models.UserFilter) ([]*models.User, error)
	PayingUsers(ctx context.Context) ([]models.PayingUser, error)
}
