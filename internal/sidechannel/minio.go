package sidechannel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/config"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore talks to MinIO through minio-go. The put/get hooks wrap the
// client and are replaced in tests.
type MinioStore struct {
	bucket string
	put    func(ctx context.Context, bucket, key string, data []byte) error
	get    func(ctx context.Context, bucket, key string) ([]byte, error)
}

// NewMinioStore accepts S3BaseEndpoint either as host:port or as a URL;
// an https scheme enables TLS.
func NewMinioStore(cfg *config.Config) (*MinioStore, error) {
	host, secure, err := splitEndpoint(cfg.S3BaseEndpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.S3RootUser, cfg.S3RootPassword, ""),
		Secure: secure,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	return &MinioStore{
		bucket: cfg.S3Bucket,
		put: func(ctx context.Context, bucket, key string, data []byte) error {
			_, err := client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
				minio.PutObjectOptions{ContentType: "application/pdf"})
			return err
		},
		get: func(ctx context.Context, bucket, key string) ([]byte, error) {
			obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
			if err != nil {
				return nil, err
			}
			defer obj.Close()
			return io.ReadAll(obj)
		},
	}, nil
}

func (s *MinioStore) Publish(ctx context.Context, key string, data []byte) error {
	if err := s.put(ctx, s.bucket, key, data); err != nil {
		return fmt.Errorf("minio put %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	b, err := s.get(ctx, s.bucket, key)
	if err != nil {
		return nil, mapMinioErr(key, err)
	}
	return b, nil
}

func mapMinioErr(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("minio get %s: %w", key, common.ErrorNotFound)
	}
	return fmt.Errorf("minio get %s: %w", key, err)
}

func splitEndpoint(endpoint string) (host string, secure bool, err error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("minio endpoint is empty")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint, false, nil
	}
	return u.Host, u.Scheme == "https", nil
}
