package backends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures the S3 backend. It's passed through from the process
// configuration without interpretation by the orchestrator.
type S3Config struct {
	// Bucket is the bucket archives are stored in. Required.
	Bucket string

	// Prefix is prepended to every object key so one bucket can host
	// several caches.
	Prefix string

	// UploadPartSize is the multipart upload chunk size in bytes. Zero
	// uses the SDK default.
	UploadPartSize int64

	// UploadConcurrency is the number of parts uploaded in parallel. Zero
	// uses the SDK default.
	UploadConcurrency int
}

// S3 is a Backend that stores archives as S3 objects. Objects are keyed
// prefix/version/key, which makes restore-key prefix matching a ListObjectsV2
// over the version directory.
type S3 struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	config     S3Config
	logger     *slog.Logger
}

// NewS3 creates an S3 backend using the ambient AWS credential chain.
func NewS3(ctx context.Context, config S3Config, logger *slog.Logger) (*S3, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("s3 backend requires a bucket")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewS3WithClient(s3.NewFromConfig(awsCfg), config, logger), nil
}

// NewS3WithClient creates an S3 backend around an existing client. Useful
// when the caller needs custom endpoint or credential configuration.
func NewS3WithClient(client *s3.Client, config S3Config, logger *slog.Logger) *S3 {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if config.UploadPartSize > 0 {
			u.PartSize = config.UploadPartSize
		}
		if config.UploadConcurrency > 0 {
			u.Concurrency = config.UploadConcurrency
		}
	})

	return &S3{
		client:     client,
		uploader:   uploader,
		downloader: manager.NewDownloader(client),
		config:     config,
		logger:     logger,
	}
}

// Lookup checks each key in preference order: a HeadObject exact match wins
// outright, otherwise the newest object whose key has the candidate as a
// prefix.
func (b *S3) Lookup(ctx context.Context, keys []string, version string) (*Entry, error) {
	for _, key := range keys {
		entry, err := b.lookupExact(ctx, key, version)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}

		entry, err = b.lookupPrefix(ctx, key, version)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}
	return nil, nil
}

func (b *S3) lookupExact(ctx context.Context, key, version string) (*Entry, error) {
	objectKey := b.objectKey(key, version)
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to head object %s: %w", objectKey, err)
	}

	return &Entry{
		Key:      key,
		Version:  version,
		Size:     aws.ToInt64(head.ContentLength),
		Location: objectKey,
	}, nil
}

func (b *S3) lookupPrefix(ctx context.Context, key, version string) (*Entry, error) {
	searchPrefix := b.objectKey(key, version)
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.config.Bucket),
		Prefix: aws.String(searchPrefix),
	})

	var (
		best     *types.Object
		bestTime time.Time
	)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", searchPrefix, err)
		}
		for i := range page.Contents {
			obj := page.Contents[i]
			if best == nil || aws.ToTime(obj.LastModified).After(bestTime) {
				best = &obj
				bestTime = aws.ToTime(obj.LastModified)
			}
		}
	}
	if best == nil {
		return nil, nil
	}

	versionPrefix := b.objectKey("", version)
	matchedKey, err := url.QueryUnescape(strings.TrimPrefix(aws.ToString(best.Key), versionPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to unescape object key %s: %w", aws.ToString(best.Key), err)
	}
	return &Entry{
		Key:      matchedKey,
		Version:  version,
		Size:     aws.ToInt64(best.Size),
		Location: aws.ToString(best.Key),
	}, nil
}

// Download fetches an entry's object into destPath using concurrent ranged
// GETs.
func (b *S3) Download(ctx context.Context, entry *Entry, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	_, err = b.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(entry.Location),
	})
	closeErr := f.Close()
	if err != nil {
		return fmt.Errorf("failed to download object %s: %w", entry.Location, err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close destination file: %w", closeErr)
	}

	return nil
}

// Upload stores the archive as a multipart upload under the key's object.
// An existing object under the same key and version means another writer got
// there first, which surfaces as a *ReserveCacheError.
func (b *S3) Upload(ctx context.Context, srcPath, key, version string) error {
	// Best-effort reservation check. S3 has no cheap compare-and-set for
	// multipart uploads, so two perfectly simultaneous writers can still
	// both pass this check; last write wins and both archives were built
	// from the same key, so nothing is lost.
	existing, err := b.lookupExact(ctx, key, version)
	if err != nil {
		return err
	}
	if existing != nil {
		return &ReserveCacheError{Key: key, Version: version}
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	objectKey := b.objectKey(key, version)
	if _, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    aws.String(objectKey),
		Body:   f,
	}); err != nil {
		return fmt.Errorf("failed to upload object %s: %w", objectKey, err)
	}

	return nil
}

// Close performs any cleanup operations needed by the backend.
func (b *S3) Close() error {
	return nil
}

// objectKey builds the object key for a cache key and version. Cache keys
// are escaped before joining: validation only rejects commas, so a key is
// free to contain "/" or "..", and a raw join would let it escape its
// version directory. Escaping is byte-wise, which keeps the prefix relation
// intact for lookupPrefix.
func (b *S3) objectKey(key, version string) string {
	if key == "" {
		// Version directory prefix, with the trailing separator that
		// path.Join would strip.
		return path.Join(b.config.Prefix, version) + "/"
	}
	return path.Join(b.config.Prefix, version, url.QueryEscape(key))
}
