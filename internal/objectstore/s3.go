package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/msalinas92/cachebolt/lib/gcsutil"
)

// maxDeleteBatch is S3's limit on keys per DeleteObjects call (spec.md §4.2).
const maxDeleteBatch = 1000

// S3Backend talks to S3 or an S3-compatible provider (MinIO, etc).
// Credentials and region come from the AWS SDK's default chain
// (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_REGION). AWS_ENDPOINT_URL,
// when set, is honored by the SDK's default resolver and forces
// path-style addressing here for MinIO compatibility, per spec.md §4.2.
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewS3Backend constructs a backend bound to bucket.
func NewS3Backend(ctx context.Context, bucket string) (*S3Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	forcePathStyle := os.Getenv("AWS_ENDPOINT_URL") != ""

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = forcePathStyle
		// Ignore headers some S3-compatible providers mutate in transit,
		// and disable trailing checksums for providers that don't support
		// them — workarounds lifted wholesale from the teacher's gcsutil
		// package, which exists precisely for S3-compatible GCS access.
		gcsutil.IgnoreSigningHeaders(o, []string{"Accept-Encoding"})
		gcsutil.DisableTrailingChecksumForGCS(o)
	})

	return &S3Backend{client: client, bucket: bucket}, nil
}

func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrMiss
		}
		if isNotFoundStatus(err) {
			return nil, ErrMiss
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *S3Backend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (b *S3Backend) DeletePrefix(ctx context.Context, prefix string) error {
	var continuation *string
	for {
		listOut, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return fmt.Errorf("listing objects under %q: %w", prefix, err)
		}

		for start := 0; start < len(listOut.Contents); start += maxDeleteBatch {
			end := min(start+maxDeleteBatch, len(listOut.Contents))
			objs := make([]types.ObjectIdentifier, 0, end-start)
			for _, o := range listOut.Contents[start:end] {
				objs = append(objs, types.ObjectIdentifier{Key: o.Key})
			}
			_, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(b.bucket),
				Delete: &types.Delete{Objects: objs},
			})
			if err != nil {
				return fmt.Errorf("deleting batch under %q: %w", prefix, err)
			}
		}

		if listOut.IsTruncated == nil || !*listOut.IsTruncated {
			return nil
		}
		continuation = listOut.NextContinuationToken
	}
}

func (b *S3Backend) Probe(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return err
}

// IsAvailabilityError reports whether err indicates the bucket itself is
// unreachable or misconfigured, as opposed to a single missing object.
func (b *S3Backend) IsAvailabilityError(err error) bool {
	if err == nil || errors.Is(err, ErrMiss) {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return false
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		if code == http.StatusNotFound {
			return false
		}
		return code >= 500 || code == http.StatusForbidden || code == http.StatusUnauthorized
	}
	// Anything else (DNS failure, connection refused, context deadline) is
	// a transport-level problem: treat it as an availability error.
	return true
}

func isNotFoundStatus(err error) bool {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}
