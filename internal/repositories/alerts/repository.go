package alerts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/otpkeeper/internal/models"
)

// Repository covers alertsubscriptions, scannerjobs and alertssummary.
// Scanner ids are stored upper-cased. Mutations report affected rows.
type Repository interface {
	ForUser(ctx context.Context, userID int64) (*models.AlertSubscription, error)
	TopUpBalance(ctx context.Context, userID int64, amount float64) (int64, error)
	Charge(ctx context.Context, userID int64, amount float64, scannerID string) (int64, error)
	TopUpScannerJob(ctx context.Context, scannerID string, userID int64) (int64, error)
	RemoveScannerJob(ctx context.Context, userID int64, scannerID string) (int64, error)
	ResetScannerJobs(ctx context.Context) (int64, error)
	ScannerJobsWithActiveUsers(ctx context.Context) ([]models.ScannerJob, error)
	UsersForScannerJob(ctx context.Context, scannerID string) ([]string, error)
	AddAlertSummary(ctx context.Context, userID int64, scannerID string, at time.Time) (int64, error)
}
