package backup

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureUploader copies artifacts to an Azure Blob Storage container
type AzureUploader struct {
	containerURL azblob.ContainerURL
	prefix       string
}

// NewAzureUploader creates a new AzureUploader instance
func NewAzureUploader(config AzureConfig) (*AzureUploader, error) {
	if config.AccountName == "" || config.AccountKey == "" || config.ContainerName == "" {
		return nil, NewConfigurationError("Azure account name, account key and container name are required", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewUploadError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewUploadError("failed to parse Azure service URL", err)
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = defaultObjectPrefix
	}

	return &AzureUploader{
		containerURL: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		prefix:       prefix,
	}, nil
}

func (a *AzureUploader) Name() string {
	return string(StorageProviderAzure)
}

// Upload copies the file at localPath into the container in parallel blocks
func (a *AzureUploader) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", NewUploadError("failed to open artifact for upload", err)
	}
	defer file.Close()

	blobName := path.Join(a.prefix, filepath.Base(localPath))
	blobURL := a.containerURL.NewBlockBlobURL(blobName)

	_, err = azblob.UploadFileToBlockBlob(ctx, file, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return "", NewUploadError(fmt.Sprintf("failed to upload blob %s", blobName), err)
	}

	u := blobURL.URL()
	return u.String(), nil
}

// HealthCheck verifies that the container is accessible
func (a *AzureUploader) HealthCheck(ctx context.Context) error {
	if _, err := a.containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return NewUploadError("Azure health check failed: container not accessible", err)
	}
	return nil
}
