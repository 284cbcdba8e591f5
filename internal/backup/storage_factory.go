package backup

import (
	"context"
	"fmt"
	"strings"

	"omnicrm-backup/internal/logging"
)

// NewUploader builds the uploader for cfg. It returns nil when no provider is
// configured, which makes every backup local-only.
func NewUploader(ctx context.Context, cfg StorageConfig, logger *logging.Logger) (Uploader, error) {
	providers := cfg.providers()
	if len(providers) == 0 {
		return nil, nil
	}

	uploaders := make([]Uploader, 0, len(providers))
	for _, provider := range providers {
		uploader, err := newProviderUploader(ctx, provider, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.UploadAttempts > 1 {
			uploader = NewRetryingUploader(uploader, cfg.UploadAttempts, cfg.RetryDelay, logger)
		}
		uploaders = append(uploaders, uploader)
	}

	if len(uploaders) == 1 {
		return uploaders[0], nil
	}
	return NewMultiUploader(logger, uploaders...)
}

func newProviderUploader(ctx context.Context, provider StorageProviderType, cfg StorageConfig) (Uploader, error) {
	switch provider {
	case StorageProviderLocal:
		return NewLocalUploader(cfg.Local)
	case StorageProviderS3:
		return NewS3Uploader(cfg.S3)
	case StorageProviderAzure:
		return NewAzureUploader(cfg.Azure)
	case StorageProviderGCS:
		return NewGCSUploader(ctx, cfg.GCS)
	default:
		return nil, NewConfigurationError(fmt.Sprintf("unsupported storage provider: %s", provider), nil)
	}
}

// MultiUploader copies each artifact to several providers. The URL of the
// first provider that succeeds is reported; the artifact counts as uploaded
// when at least one copy landed.
type MultiUploader struct {
	logger    *logging.Logger
	uploaders []Uploader
}

// NewMultiUploader creates a new multi-provider uploader; the first is primary
func NewMultiUploader(logger *logging.Logger, uploaders ...Uploader) (*MultiUploader, error) {
	if len(uploaders) == 0 {
		return nil, NewConfigurationError("at least one storage provider is required", nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MultiUploader{logger: logger, uploaders: uploaders}, nil
}

func (m *MultiUploader) Name() string {
	names := make([]string, len(m.uploaders))
	for i, u := range m.uploaders {
		names[i] = u.Name()
	}
	return strings.Join(names, "+")
}

func (m *MultiUploader) Upload(ctx context.Context, path string) (string, error) {
	var (
		firstURL string
		failures []string
		lastErr  error
	)

	for _, uploader := range m.uploaders {
		url, err := uploader.Upload(ctx, path)
		if err != nil {
			lastErr = err
			failures = append(failures, uploader.Name())
			m.logger.WithError(err).WithField("provider", uploader.Name()).Warn("Mirror upload failed")
			continue
		}
		if firstURL == "" {
			firstURL = url
		}
	}

	if firstURL == "" {
		return "", NewUploadError(fmt.Sprintf("upload failed on every provider (%s)", strings.Join(failures, ", ")), lastErr)
	}
	return firstURL, nil
}

// HealthCheck probes every provider that supports it
func (m *MultiUploader) HealthCheck(ctx context.Context) error {
	var failures []string
	for _, uploader := range m.uploaders {
		checker, ok := uploader.(HealthChecker)
		if !ok {
			continue
		}
		if err := checker.HealthCheck(ctx); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", uploader.Name(), err))
		}
	}
	if len(failures) > 0 {
		return NewUploadError(strings.Join(failures, "; "), nil)
	}
	return nil
}
