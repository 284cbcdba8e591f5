package backup

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
)

// LocalUploader mirrors artifacts into a second directory, typically a
// mounted network share
type LocalUploader struct {
	basePath string
}

// NewLocalUploader creates a new LocalUploader instance
func NewLocalUploader(config LocalConfig) (*LocalUploader, error) {
	if config.Path == "" {
		return nil, NewConfigurationError("local mirror path is required", nil)
	}
	abs, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, NewConfigurationError("invalid local mirror path", err)
	}
	return &LocalUploader{basePath: abs}, nil
}

func (l *LocalUploader) Name() string {
	return string(StorageProviderLocal)
}

// Upload copies the file at localPath into the mirror directory
func (l *LocalUploader) Upload(ctx context.Context, localPath string) (string, error) {
	if err := os.MkdirAll(l.basePath, 0755); err != nil {
		return "", NewUploadError("failed to create mirror directory", err)
	}

	dst := filepath.Join(l.basePath, filepath.Base(localPath))
	_, err := writeFileAtomically(dst, func(w io.Writer) error {
		in, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(w, &contextReader{ctx: ctx, r: in})
		return err
	})
	if err != nil {
		return "", NewUploadError(fmt.Sprintf("failed to mirror %s", filepath.Base(localPath)), err)
	}

	return (&url.URL{Scheme: "file", Path: dst}).String(), nil
}

// HealthCheck verifies that the mirror directory is writable
func (l *LocalUploader) HealthCheck(ctx context.Context) error {
	if err := os.MkdirAll(l.basePath, 0755); err != nil {
		return NewUploadError("local mirror is not writable", err)
	}
	probe, err := os.CreateTemp(l.basePath, ".healthcheck-*")
	if err != nil {
		return NewUploadError("local mirror is not writable", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}
