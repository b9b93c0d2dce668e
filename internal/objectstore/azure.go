package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureBackend talks to an Azure Blob Storage container. The storage
// account and key come from AZURE_STORAGE_ACCOUNT and
// AZURE_STORAGE_ACCESS_KEY, per spec.md §6.
type AzureBackend struct {
	client    *azblob.Client
	container string
}

// NewAzureBackend constructs a backend bound to containerName.
func NewAzureBackend(containerName string) (*AzureBackend, error) {
	account := os.Getenv("AZURE_STORAGE_ACCOUNT")
	key := os.Getenv("AZURE_STORAGE_ACCESS_KEY")
	if account == "" || key == "" {
		return nil, errors.New("AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_ACCESS_KEY must be set")
	}

	cred, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("building azure shared key credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("building azure blob client: %w", err)
	}

	return &AzureBackend{client: client, container: containerName}, nil
}

func (b *AzureBackend) Name() string { return "azure" }

func (b *AzureBackend) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrMiss
		}
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (b *AzureBackend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.UploadBuffer(ctx, b.container, key, data, nil)
	return err
}

func (b *AzureBackend) DeletePrefix(ctx context.Context, prefix string) error {
	pager := b.client.NewListBlobsFlatPager(b.container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing blobs under %q: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if _, err := b.client.DeleteBlob(ctx, b.container, *item.Name, nil); err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
				return fmt.Errorf("deleting %q: %w", *item.Name, err)
			}
		}
	}
	return nil
}

func (b *AzureBackend) Probe(ctx context.Context) error {
	_, err := b.client.ServiceClient().NewContainerClient(b.container).GetProperties(ctx, nil)
	return err
}

// IsAvailabilityError reports whether err indicates the container itself
// is unreachable or misconfigured, as opposed to a single missing blob.
func (b *AzureBackend) IsAvailabilityError(err error) bool {
	if err == nil || errors.Is(err, ErrMiss) {
		return false
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false
	}
	if bloberror.HasCode(err, bloberror.ContainerNotFound,
		bloberror.AuthenticationFailed, bloberror.AuthorizationFailure,
		bloberror.AccountIsDisabled, bloberror.ServerBusy, bloberror.InternalError) {
		return true
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode >= 500 || respErr.StatusCode == 401 || respErr.StatusCode == 403
	}
	return true
}
