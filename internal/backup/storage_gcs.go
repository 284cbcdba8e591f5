package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSUploader copies artifacts to a Google Cloud Storage bucket
type GCSUploader struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSUploader creates a new GCSUploader. Without a credentials file the
// application default credentials are used.
func NewGCSUploader(ctx context.Context, config GCSConfig) (*GCSUploader, error) {
	if config.Bucket == "" {
		return nil, NewConfigurationError("GCS bucket is required", nil)
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, NewUploadError("failed to create GCS client", err)
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = defaultObjectPrefix
	}

	return &GCSUploader{
		client:     client,
		bucketName: config.Bucket,
		prefix:     prefix,
	}, nil
}

func (g *GCSUploader) Name() string {
	return string(StorageProviderGCS)
}

// Upload streams the file at localPath to gs://bucket/prefix/<name>
func (g *GCSUploader) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", NewUploadError("failed to open artifact for upload", err)
	}
	defer file.Close()

	objectName := path.Join(g.prefix, filepath.Base(localPath))
	writer := g.client.Bucket(g.bucketName).Object(objectName).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"

	if _, err := io.Copy(writer, file); err != nil {
		writer.Close()
		return "", NewUploadError(fmt.Sprintf("failed to write object %s", objectName), err)
	}
	if err := writer.Close(); err != nil {
		return "", NewUploadError(fmt.Sprintf("failed to finalize object %s", objectName), err)
	}

	return fmt.Sprintf("gs://%s/%s", g.bucketName, objectName), nil
}

// HealthCheck verifies that the bucket is accessible
func (g *GCSUploader) HealthCheck(ctx context.Context) error {
	if _, err := g.client.Bucket(g.bucketName).Attrs(ctx); err != nil {
		return NewUploadError("GCS health check failed: bucket not accessible", err)
	}
	return nil
}

// Close closes the GCS client
func (g *GCSUploader) Close() error {
	return g.client.Close()
}
