// Package storage relays finished backups to an S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jonesrussell/siteops/internal/config"
	"github.com/jonesrussell/siteops/internal/logger"
	"github.com/jonesrussell/siteops/internal/retry"
)

const (
	backupContentType    = "application/gzip"
	defaultRetryDelay    = 500 * time.Millisecond
	clientRequestTries   = 1
	serverErrorMinimum   = 500
	defaultUploadTimeout = 5 * time.Minute
)

// ErrNotConfigured is returned by the no-op uploader.
var ErrNotConfigured = errors.New("remote storage not configured")

// Uploader ships a local file to remote storage.
type Uploader interface {
	// Enabled reports whether uploads are configured.
	Enabled() bool
	// Upload stores the file at localPath under objectKey and returns a
	// reference to the stored object.
	Upload(ctx context.Context, localPath, objectKey string) (string, error)
}

// Option configures the S3 uploader.
type Option func(*s3Uploader)

// WithRetryDelay sets the initial backoff between upload attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(u *s3Uploader) { u.retryDelay = d }
}

type s3Uploader struct {
	client     *miniogo.Client
	bucket     string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     logger.Logger
}

// NewUploader returns an S3 uploader when cfg enables one, otherwise a no-op.
func NewUploader(cfg config.StorageConfig, log logger.Logger, opts ...Option) (Uploader, error) {
	if !cfg.Enabled() {
		log.Debug("Remote backup upload disabled", logger.String("backend", cfg.Backend))
		return noopUploader{}, nil
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:      credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:     cfg.UseSSL,
		Region:     cfg.Region,
		MaxRetries: clientRequestTries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	u := &s3Uploader{
		client:     client,
		bucket:     cfg.Bucket,
		timeout:    cfg.UploadTimeout,
		maxRetries: cfg.MaxRetries,
		retryDelay: defaultRetryDelay,
		logger:     log,
	}
	if u.timeout <= 0 {
		u.timeout = defaultUploadTimeout
	}
	for _, opt := range opts {
		opt(u)
	}

	log.Info("Remote backup upload enabled",
		logger.String("endpoint", cfg.Endpoint),
		logger.String("bucket", cfg.Bucket),
	)

	return u, nil
}

func (u *s3Uploader) Enabled() bool { return true }

// Upload implements Uploader. Transient failures are retried up to
// maxRetries times, each attempt bounded by the upload timeout.
func (u *s3Uploader) Upload(ctx context.Context, localPath, objectKey string) (string, error) {
	cfg := retry.Config{
		MaxAttempts:  u.maxRetries + 1,
		InitialDelay: u.retryDelay,
		IsRetryable:  isRetryable,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			u.logger.Warn("Backup upload failed, retrying",
				logger.String("object_key", objectKey),
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Error(err),
			)
		},
	}

	var info miniogo.UploadInfo
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, u.timeout)
		defer cancel()

		var putErr error
		info, putErr = u.client.FPutObject(attemptCtx, u.bucket, objectKey, localPath, miniogo.PutObjectOptions{
			ContentType: backupContentType,
			UserMetadata: map[string]string{
				"uploaded_at": time.Now().UTC().Format(time.RFC3339),
			},
		})
		return putErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload backup to S3: %w", err)
	}

	u.logger.Debug("Uploaded backup",
		logger.String("object_key", objectKey),
		logger.Int64("size_bytes", info.Size),
		logger.String("etag", info.ETag),
	)

	return fmt.Sprintf("s3://%s/%s", u.bucket, objectKey), nil
}

func isRetryable(err error) bool {
	if retry.DefaultIsRetryable(err) {
		return true
	}
	return miniogo.ToErrorResponse(err).StatusCode >= serverErrorMinimum
}

// noopUploader is used when remote storage is not configured.
type noopUploader struct{}

func (noopUploader) Enabled() bool { return false }

func (noopUploader) Upload(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}
