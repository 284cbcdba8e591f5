package backup

import (
	"context"
	"time"

	"omnicrm-backup/internal/logging"
	"omnicrm-backup/internal/retry"
)

// RetryingUploader repeats uploads that fail with transient network or
// provider errors. Permanent failures surface on the first attempt.
type RetryingUploader struct {
	inner   Uploader
	retrier *retry.Handler
}

// NewRetryingUploader wraps inner with up to attempts tries, waiting delay
// after the first failure and doubling from there.
func NewRetryingUploader(inner Uploader, attempts int, delay time.Duration, logger *logging.Logger) *RetryingUploader {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	config := retry.DefaultConfig()
	config.MaxAttempts = attempts
	if delay > 0 {
		config.BaseDelay = delay
	}

	retrier := retry.NewHandler(config)
	retrier.OnRetry = func(attempt int, wait time.Duration, err error, cls retry.Classification) {
		logger.WithError(err).WithFields(map[string]interface{}{
			"provider": inner.Name(),
			"attempt":  attempt,
			"reason":   cls.Reason,
			"wait":     wait.String(),
		}).Warn("Upload failed, retrying")
	}

	return &RetryingUploader{inner: inner, retrier: retrier}
}

func (r *RetryingUploader) Name() string {
	return r.inner.Name()
}

func (r *RetryingUploader) Upload(ctx context.Context, path string) (string, error) {
	var url string
	err := r.retrier.Retry(ctx, func(ctx context.Context) error {
		var err error
		url, err = r.inner.Upload(ctx, path)
		return err
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// HealthCheck probes the wrapped uploader once
func (r *RetryingUploader) HealthCheck(ctx context.Context) error {
	if checker, ok := r.inner.(HealthChecker); ok {
		return checker.HealthCheck(ctx)
	}
	return nil
}
