package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSBackend talks to Google Cloud Storage. Credentials are resolved via
// Application Default Credentials (GOOGLE_APPLICATION_CREDENTIALS or the
// ambient metadata server), per spec.md §4.2.
type GCSBackend struct {
	client *storage.Client
	bucket string
}

// NewGCSBackend constructs a backend bound to bucket, using ADC.
func NewGCSBackend(ctx context.Context, bucket string) (*GCSBackend, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	return &GCSBackend{client: client, bucket: bucket}, nil
}

func (b *GCSBackend) Name() string { return "gcs" }

func (b *GCSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrMiss
		}
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *GCSBackend) Put(ctx context.Context, key string, data []byte) error {
	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (b *GCSBackend) DeletePrefix(ctx context.Context, prefix string) error {
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("listing objects under %q: %w", prefix, err)
		}
		if err := b.client.Bucket(b.bucket).Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("deleting %q: %w", attrs.Name, err)
		}
	}
}

func (b *GCSBackend) Probe(ctx context.Context) error {
	_, err := b.client.Bucket(b.bucket).Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return err
	}
	return err
}

// IsAvailabilityError reports whether err indicates the bucket itself is
// unreachable or misconfigured, as opposed to a single missing object.
func (b *GCSBackend) IsAvailabilityError(err error) bool {
	if err == nil || errors.Is(err, ErrMiss) || errors.Is(err, storage.ErrObjectNotExist) {
		return false
	}
	if errors.Is(err, storage.ErrBucketNotExist) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusNotFound {
			return false
		}
		return gerr.Code >= 500 || gerr.Code == http.StatusForbidden || gerr.Code == http.StatusUnauthorized
	}
	return true
}
