// Package fallback is the local OTP cache consulted only when the primary
// cannot be reached. It lives in its own SQLite file, separate from the
// replica, and never touches the network.
package fallback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/otpkeeper/internal/filex"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
	"github.com/dmitrijs2005/otpkeeper/internal/models"
	"github.com/dmitrijs2005/otpkeeper/internal/timex"
	"github.com/dmitrijs2005/otpkeeper/internal/totp"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

// Record is a denormalized projection of models.User.
type Record struct {
	UserID            int64  `gorm:"column:userid;primaryKey;autoIncrement:false"`
	Username          string `gorm:"column:username;index"`
	Name              string `gorm:"column:name"`
	TOTPSecret        string `gorm:"column:totptoken;not null"`
	SubscriptionModel string `gorm:"column:subscriptionmodel"`
	LastOTP           string `gorm:"column:lastotp"`
	LastSyncedAt      int64  `gorm:"column:lastsyncedat"`
}

func (Record) TableName() string { return "otp_cache" }

// SyncedAt is the time the record was last copied from the primary.
func (r *Record) SyncedAt() time.Time {
	return time.Unix(r.LastSyncedAt, 0)
}

type Cache struct {
	db     *gorm.DB
	clock  timex.Clock
	skew   uint
	logger logging.Logger
}

// Open opens (creating if needed) the cache file at path.
func Open(ctx context.Context, path string, clock timex.Clock, skew uint, logger logging.Logger) (*Cache, error) {
	if err := filex.EnsureParent(path); err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}

	return &Cache{db: db, clock: clock, skew: skew, logger: logger.With("component", "fallback")}, nil
}

func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CacheUser upserts u. Users without a secret are not cached.
func (c *Cache) CacheUser(ctx context.Context, u *models.User) bool {
	if !u.HasSecret() {
		return false
	}
	rec := Record{
		UserID:            u.UserID,
		Username:          strings.ToLower(u.Username),
		Name:              u.Name,
		TOTPSecret:        u.TOTPSecret,
		SubscriptionModel: string(u.SubscriptionModel),
		LastOTP:           u.LastOTP,
		LastSyncedAt:      c.clock.Now().Unix(),
	}
	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		c.logger.Warn(ctx, "cache user failed", "user_id", u.UserID, "err", err)
		return false
	}
	return true
}

func (c *Cache) GetCachedUser(ctx context.Context, id int64) (*Record, bool) {
	return c.first(ctx, "userid = ?", id)
}

func (c *Cache) GetCachedUserByUsername(ctx context.Context, username string) (*Record, bool) {
	if username == "" {
		return nil, false
	}
	return c.first(ctx, "username = ?", strings.ToLower(username))
}

// Lookup resolves a numeric id first and falls back to the username.
func (c *Cache) Lookup(ctx context.Context, idOrUsername string) (*Record, bool) {
	if id, err := strconv.ParseInt(strings.TrimSpace(idOrUsername), 10, 64); err == nil {
		if rec, ok := c.GetCachedUser(ctx, id); ok {
			return rec, true
		}
	}
	return c.GetCachedUserByUsername(ctx, strings.TrimSpace(idOrUsername))
}

func (c *Cache) first(ctx context.Context, cond string, arg any) (*Record, bool) {
	var rec Record
	err := c.db.WithContext(ctx).Where(cond, arg).Order("userid").First(&rec).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.logger.Warn(ctx, "cache lookup failed", "err", err)
		}
		return nil, false
	}
	return &rec, true
}

// GenerateOTPFromCache computes the current code from the cached secret and
// records it as the last delivered code.
func (c *Cache) GenerateOTPFromCache(ctx context.Context, id int64, interval int) (string, models.SubscriptionModel, bool) {
	rec, ok := c.GetCachedUser(ctx, id)
	if !ok || rec.TOTPSecret == "" {
		return "", models.SubscriptionNone, false
	}

	code, err := totp.Code(rec.TOTPSecret, interval, c.clock.Now())
	if err != nil {
		c.logger.Warn(ctx, "cache otp failed", "user_id", id, "err", err)
		return "", models.SubscriptionNone, false
	}

	if err := c.db.WithContext(ctx).Model(&Record{}).
		Where("userid = ?", id).
		Update("lastotp", code).Error; err != nil {
		c.logger.Warn(ctx, "cache lastotp update failed", "user_id", id, "err", err)
	}

	return code, models.SubscriptionModel(rec.SubscriptionModel).Normalize(), true
}

// ValidateFromCache reports (valid, found).
func (c *Cache) ValidateFromCache(ctx context.Context, idOrUsername, otp string, interval int) (bool, bool) {
	rec, ok := c.Lookup(ctx, idOrUsername)
	if !ok {
		return false, false
	}
	return totp.Accept(rec.TOTPSecret, rec.LastOTP, otp, interval, c.clock.Now(), c.skew), true
}
