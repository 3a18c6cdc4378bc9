package dbx

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds a remote call: each attempt gets its own Timeout and
// failed attempts are retried MaxRetries times with exponential backoff.
type RetryPolicy struct {
	MaxRetries uint64
	Base       time.Duration
	Timeout    time.Duration
}

// Retry runs fn under p. Not-found results and caller cancellation are
// returned immediately; any other error is retried and, once the budget
// is spent, the last error is returned.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	base := p.Base
	if base <= 0 {
		base = time.Millisecond
	}
	backoff := retry.WithMaxRetries(p.MaxRetries, retry.NewExponential(base))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		err := fn(attemptCtx)
		if err == nil || permanent(ctx, err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func permanent(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, common.ErrorNotFound) ||
		errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, common.ErrorInvalidColumn) ||
		errors.Is(err, context.Canceled)
}
