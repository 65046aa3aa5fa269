// Package s3 implements blob storage on Amazon S3 or any S3-compatible
// object store.
//
// Object storage has no true random access, so ReadAt uses byte-range
// GETs and WriteAt falls back to read-modify-write for offsets inside an
// existing object. That makes this backend a fit for read-mostly or
// whole-file-write workloads; write-heavy nodes should prefer the
// filesystem backend or the raw block engine.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/shardfs/pkg/store/content"
)

// S3Store implements content.Store on an S3 bucket.
//
// Concurrent writes to the same blob are last-write-wins, per S3's
// consistency model; the engine serializes per-file mutations so this
// never surfaces in practice.
type S3Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// Config contains the settings for an S3 blob store.
type Config struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the bucket name; it must already exist
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	KeyPrefix string
}

// New creates an S3 blob store and verifies bucket access with a
// HeadBucket call.
func New(ctx context.Context, cfg Config) (*S3Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3 store: client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 store: bucket is required")
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("verify bucket %q: %w", cfg.Bucket, err)
	}

	return &S3Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (s *S3Store) objectKey(id content.BlobID) string {
	return s.keyPrefix + string(id)
}

// ReadAt reads up to count bytes starting at offset using an S3
// byte-range request.
func (s *S3Store) ReadAt(ctx context.Context, id content.BlobID, offset uint64, count uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count == 0 {
		return []byte{}, nil
	}

	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+uint64(count)-1)
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
		Range:  aws.String(rng),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("blob %q: %w", id, content.ErrBlobNotFound)
		}
		// A range entirely past the end of the object comes back as an
		// InvalidRange API error; treat it as a zero-length read.
		var apiErr interface{ ErrorCode() string }
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange" {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("get object range: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	return data, nil
}

// WriteAt writes data at offset. Writes at offset 0 that replace or
// create the whole object are a single PutObject; anything else is
// read-modify-write.
func (s *S3Store) WriteAt(ctx context.Context, id content.BlobID, offset uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	size, err := s.Size(ctx, id)
	if err != nil {
		if !errors.Is(err, content.ErrBlobNotFound) {
			return err
		}
		size = 0
	}

	if offset == 0 && uint64(len(data)) >= size {
		return s.put(ctx, id, data)
	}

	existing, err := s.ReadAt(ctx, id, 0, uint32(size))
	if err != nil && !errors.Is(err, content.ErrBlobNotFound) {
		return err
	}

	end := offset + uint64(len(data))
	if end < uint64(len(existing)) {
		end = uint64(len(existing))
	}
	merged := make([]byte, end)
	copy(merged, existing)
	copy(merged[offset:], data)
	return s.put(ctx, id, merged)
}

// Truncate sets the object to exactly size bytes via read-modify-write.
func (s *S3Store) Truncate(ctx context.Context, id content.BlobID, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	current, err := s.Size(ctx, id)
	if err != nil {
		if !errors.Is(err, content.ErrBlobNotFound) {
			return err
		}
		current = 0
	}
	if current == size {
		return nil
	}

	existing := []byte{}
	if current > 0 {
		existing, err = s.ReadAt(ctx, id, 0, uint32(current))
		if err != nil && !errors.Is(err, content.ErrBlobNotFound) {
			return err
		}
	}

	resized := make([]byte, size)
	copy(resized, existing)
	return s.put(ctx, id, resized)
}

// Size returns the object size from a HeadObject call.
func (s *S3Store) Size(ctx context.Context, id content.BlobID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, fmt.Errorf("blob %q: %w", id, content.ErrBlobNotFound)
		}
		return 0, fmt.Errorf("head object: %w", err)
	}
	if result.ContentLength == nil {
		return 0, nil
	}
	return uint64(*result.ContentLength), nil
}

// Delete removes the object. S3 DeleteObject is idempotent, so deleting
// a missing blob is naturally not an error.
func (s *S3Store) Delete(ctx context.Context, id content.BlobID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *S3Store) put(ctx context.Context, id content.BlobID, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// ListAll enumerates every object under the key prefix.
func (s *S3Store) ListAll(ctx context.Context) ([]content.BlobID, error) {
	var ids []content.BlobID

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			ids = append(ids, content.BlobID(strings.TrimPrefix(key, s.keyPrefix)))
		}
	}
	return ids, nil
}

// DeleteBatch removes up to 1000 objects per DeleteObjects call.
func (s *S3Store) DeleteBatch(ctx context.Context, ids []content.BlobID) (map[content.BlobID]error, error) {
	const maxPerCall = 1000

	failures := make(map[content.BlobID]error)
	for start := 0; start < len(ids); start += maxPerCall {
		end := min(start+maxPerCall, len(ids))
		batch := ids[start:end]

		objects := make([]types.ObjectIdentifier, len(batch))
		for i, id := range batch {
			objects[i] = types.ObjectIdentifier{Key: aws.String(s.objectKey(id))}
		}

		result, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return failures, fmt.Errorf("delete objects: %w", err)
		}
		for _, e := range result.Errors {
			key := strings.TrimPrefix(aws.ToString(e.Key), s.keyPrefix)
			failures[content.BlobID(key)] = fmt.Errorf("%s: %s",
				aws.ToString(e.Code), aws.ToString(e.Message))
		}
	}
	return failures, nil
}

func (s *S3Store) Close() error {
	return nil
}

var (
	_ content.Store        = (*S3Store)(nil)
	_ content.Lister       = (*S3Store)(nil)
	_ content.BatchDeleter = (*S3Store)(nil)
)
