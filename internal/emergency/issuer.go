// Package emergency is the last-resort OTP tier for users unknown to both
// the primary and the local cache. It mints a fresh secret, seals the code
// into a document that only the code itself can open, and ships that
// document over the side channel.
package emergency

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/cryptox"
	"github.com/dmitrijs2005/otpkeeper/internal/filex"
	"github.com/dmitrijs2005/otpkeeper/internal/logging"
	"github.com/dmitrijs2005/otpkeeper/internal/models"
	"github.com/dmitrijs2005/otpkeeper/internal/sidechannel"
	"github.com/dmitrijs2005/otpkeeper/internal/timex"
	"github.com/dmitrijs2005/otpkeeper/internal/totp"
	"github.com/google/uuid"
)

// SecretCache receives freshly minted secrets.
type SecretCache interface {
	CacheUser(ctx context.Context, u *models.User) bool
}

// Payload is the sealed content of an emergency document. It carries the
// delivered code, never the user's secret.
type Payload struct {
	DocumentID        string    `json:"document_id"`
	UserID            int64     `json:"user_id"`
	OTP               string    `json:"otp"`
	SubscriptionModel string    `json:"subscription_model"`
	IssuedAt          time.Time `json:"issued_at"`
}

type Options struct {
	Dir     string
	Branch  string
	Timeout time.Duration
}

type Issuer struct {
	opts   Options
	cache  SecretCache
	store  sidechannel.Store
	clock  timex.Clock
	logger logging.Logger

	newSecret func() (string, error)
	writeFile func(path string, data []byte, perm os.FileMode) error
}

// NewIssuer builds an Issuer. store may be nil, in which case documents
// stay local.
func NewIssuer(opts Options, cache SecretCache, store sidechannel.Store, clock timex.Clock, logger logging.Logger) *Issuer {
	return &Issuer{
		opts:      opts,
		cache:     cache,
		store:     store,
		clock:     clock,
		logger:    logger.With("component", "emergency"),
		newSecret: totp.NewSecret,
		writeFile: filex.WriteAtomic,
	}
}

// DocumentPath is where the local copy of a user's document lives.
func (i *Issuer) DocumentPath(userID int64) string {
	return filepath.Join(i.opts.Dir, strconv.FormatInt(userID, 10)+".pdf")
}

// Issue mints a secret and a code for the user, seals the code into a
// document, warms the cache and publishes the document. Emergency users are
// always on the free tier. ok is false only if the document could not be
// created.
func (i *Issuer) Issue(ctx context.Context, id int64, username, name string, interval int) (string, models.SubscriptionModel, bool) {
	log := i.logger.With("user_id", id)

	secret, err := i.newSecret()
	if err != nil {
		log.Error(ctx, "emergency secret failed", "err", err)
		return "", models.SubscriptionNone, false
	}
	code, err := totp.Code(secret, interval, i.clock.Now())
	if err != nil {
		log.Error(ctx, "emergency otp failed", "err", err)
		return "", models.SubscriptionNone, false
	}

	u := &models.User{
		UserID:            id,
		Username:          username,
		Name:              name,
		TOTPSecret:        secret,
		LastOTP:           code,
		SubscriptionModel: models.SubscriptionNone,
	}

	if err := i.WriteDocument(ctx, u, code); err != nil {
		log.Error(ctx, "emergency document failed", "err", err)
		return "", models.SubscriptionNone, false
	}

	i.cache.CacheUser(ctx, u)
	i.Publish(ctx, id)

	log.Warn(ctx, "emergency otp issued")
	return code, models.SubscriptionNone, true
}

// WriteDocument seals otp into the local document.
// On failure any file at the document path is removed.
func (i *Issuer) WriteDocument(ctx context.Context, u *models.User, otp string) (err error) {
	path := i.DocumentPath(u.UserID)
	defer func() {
		if err != nil {
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				i.logger.Error(ctx, "remove partial document failed", "path", path, "err", rmErr)
			}
		}
	}()

	doc, err := cryptox.SealDocument(Payload{
		DocumentID:        uuid.NewString(),
		UserID:            u.UserID,
		OTP:               otp,
		SubscriptionModel: string(u.SubscriptionModel.Normalize()),
		IssuedAt:          i.clock.Now().UTC(),
	}, otp, u.OwnerTag())
	if err != nil {
		return err
	}

	raw, err := doc.Marshal()
	if err != nil {
		return err
	}

	if err := i.writeFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrEncryptionFailure, err)
	}
	return nil
}

// Publish pushes the local document to the side channel. Failures are
// logged and reported as false; the local document stays valid.
func (i *Issuer) Publish(ctx context.Context, userID int64) bool {
	if i.store == nil {
		return false
	}
	raw, err := os.ReadFile(i.DocumentPath(userID))
	if err != nil {
		i.logger.Warn(ctx, "publish: no local document", "user_id", userID, "err", err)
		return false
	}

	ctx, cancel := i.withTimeout(ctx)
	defer cancel()

	key := sidechannel.DocumentKey(i.opts.Branch, userID)
	if err := i.store.Publish(ctx, key, raw); err != nil {
		i.logger.Warn(ctx, "publish document failed", "user_id", userID, "key", key, "err", err)
		return false
	}
	return true
}

// ValidateFromSideChannel reports whether candidate opens the user's
// document. The side-channel copy is preferred; the local copy is used
// when the side channel is unavailable or does not have it. A missing
// document is simply false.
func (i *Issuer) ValidateFromSideChannel(ctx context.Context, userID int64, candidate string) bool {
	if candidate == "" {
		return false
	}
	raw, ok := i.fetch(ctx, userID)
	if !ok {
		return false
	}

	doc, err := cryptox.ParseDocument(raw)
	if err != nil {
		i.logger.Warn(ctx, "unreadable emergency document", "user_id", userID, "err", err)
		return false
	}

	var p Payload
	owner := strconv.FormatInt(userID, 10)
	if err := cryptox.OpenDocument(doc, candidate, owner, &p); err != nil {
		return false
	}
	return p.UserID == userID
}

func (i *Issuer) fetch(ctx context.Context, userID int64) ([]byte, bool) {
	if i.store != nil {
		fctx, cancel := i.withTimeout(ctx)
		raw, err := i.store.Fetch(fctx, sidechannel.DocumentKey(i.opts.Branch, userID))
		cancel()
		if err == nil {
			return raw, true
		}
		if !errors.Is(err, common.ErrorNotFound) {
			i.logger.Warn(ctx, "side channel unavailable, using local document", "user_id", userID, "err", err)
		}
	}

	raw, err := os.ReadFile(i.DocumentPath(userID))
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (i *Issuer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, i.opts.Timeout)
}

// OpenLocalDocument decrypts the local document with password. Operators use
// it to confirm what was delivered.
func (i *Issuer) OpenLocalDocument(userID int64, password string) (*Payload, error) {
	raw, err := os.ReadFile(i.DocumentPath(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	doc, err := cryptox.ParseDocument(raw)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := cryptox.OpenDocument(doc, password, strconv.FormatInt(userID, 10), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
