package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

const defaultObjectPrefix = "backups/"

// S3Uploader copies artifacts to an S3 (or S3-compatible) bucket with
// server-side encryption
type S3Uploader struct {
	client   s3iface.S3API
	uploader s3manageriface.UploaderAPI
	bucket   string
	prefix   string
	sse      string
}

// NewS3Uploader creates an uploader from configuration. Without static keys
// the default AWS credential chain is used.
func NewS3Uploader(config S3Config) (*S3Uploader, error) {
	if config.Bucket == "" || config.Region == "" {
		return nil, NewConfigurationError("S3 bucket and region are required", nil)
	}

	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewUploadError("failed to create AWS session", err)
	}

	client := s3.New(sess)
	return NewS3UploaderWithClients(config, client, s3manager.NewUploaderWithClient(client)), nil
}

// NewS3UploaderWithClients creates an uploader around existing SDK clients
func NewS3UploaderWithClients(config S3Config, client s3iface.S3API, uploader s3manageriface.UploaderAPI) *S3Uploader {
	prefix := config.Prefix
	if prefix == "" {
		prefix = defaultObjectPrefix
	}
	return &S3Uploader{
		client:   client,
		uploader: uploader,
		bucket:   config.Bucket,
		prefix:   prefix,
		sse:      config.ServerSideEncryption,
	}
}

func (u *S3Uploader) Name() string {
	return string(StorageProviderS3)
}

// Upload streams the file at localPath to s3://bucket/prefix/<name>
func (u *S3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", NewUploadError("failed to open artifact for upload", err)
	}
	defer file.Close()

	key := path.Join(u.prefix, filepath.Base(localPath))
	input := &s3manager.UploadInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/octet-stream"),
	}
	if u.sse != "" && u.sse != "none" {
		input.ServerSideEncryption = aws.String(u.sse)
	}

	if _, err := u.uploader.UploadWithContext(ctx, input); err != nil {
		return "", NewUploadError(fmt.Sprintf("failed to upload %s to bucket %s", key, u.bucket), err)
	}

	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}

// HealthCheck verifies that the bucket is reachable with the configured credentials
func (u *S3Uploader) HealthCheck(ctx context.Context) error {
	_, err := u.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(u.bucket),
	})
	if err != nil {
		return NewUploadError("S3 health check failed: bucket not accessible", err)
	}
	return nil
}
