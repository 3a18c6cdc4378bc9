// Package sidechannel publishes emergency documents to object storage so
// they can be fetched later, from anywhere, by an operator or an online
// process.
package sidechannel

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/dmitrijs2005/otpkeeper/internal/config"
)

// Store is a flat key/value blob store. Fetch of a missing key returns an
// error wrapping common.ErrorNotFound.
type Store interface {
	Publish(ctx context.Context, key string, data []byte) error
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// DocumentKey is the object key of a user's emergency document.
func DocumentKey(branch string, userID int64) string {
	return path.Join(branch, "results", "Data", strconv.FormatInt(userID, 10)+".pdf")
}

// New builds the Store selected by cfg.SideChannelBackend. The "none"
// backend yields a nil Store and no error.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.SideChannelBackend {
	case "", config.BackendNone:
		return nil, nil
	case config.BackendS3:
		s, err := NewS3Store(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendMinio:
		s, err := NewMinioStore(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown side channel backend %q", cfg.SideChannelBackend)
	}
}
