// Package s3 implements the storage backend on any S3-compatible object
// store (AWS, MinIO, R2, B2, Wasabi).
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"pgward/internal/storage"
)

// Ensure Backend implements storage.Backend at compile time.
var _ storage.Backend = (*Backend)(nil)

// Config holds the configuration for an S3-compatible storage backend.
type Config struct {
	Bucket          string
	Prefix          string // object key prefix, defaults to "pgward"
	Region          string
	Endpoint        string // custom endpoint for MinIO/R2/B2/Wasabi
	AccessKeyID     string // optional, falls back to AWS credential chain
	SecretAccessKey string
	StorageClass    string // e.g. "STANDARD", "STANDARD_IA", "DEEP_ARCHIVE"
	ForcePathStyle  bool   // required for MinIO and some S3-compatible stores
}

// Backend stores backup objects in an S3-compatible object store. Object
// names are kept flat under <prefix>/.
type Backend struct {
	client       *s3.Client
	bucket       string
	prefix       string
	storageClass s3types.StorageClass
}

// New creates a new S3 storage backend from the given config.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "pgward"
	}
	prefix = strings.Trim(prefix, "/")

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for most S3-compatible stores
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	sc := s3types.StorageClassStandard
	if cfg.StorageClass != "" {
		sc = s3types.StorageClass(cfg.StorageClass)
	}

	return &Backend{
		client:       client,
		bucket:       cfg.Bucket,
		prefix:       prefix,
		storageClass: sc,
	}, nil
}

func (b *Backend) Type() string {
	return "s3"
}

// objectKey returns the full S3 key for an object name.
// Layout: <prefix>/<name>
func (b *Backend) objectKey(name string) string {
	return path.Join(b.prefix, name)
}

// EnsureBucket creates the bucket if it does not exist.
func (b *Backend) EnsureBucket(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}
	var nf *s3types.NotFound
	if !errors.As(err, &nf) {
		return fmt.Errorf("s3: failed to check bucket %s: %w", b.bucket, err)
	}
	_, err = b.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil && !strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") {
		return fmt.Errorf("s3: failed to create bucket %s: %w", b.bucket, err)
	}
	return nil
}

// Put uploads the file at localPath under the given object name.
func (b *Backend) Put(ctx context.Context, name, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("s3: failed to open %s: %w", localPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("s3: failed to stat %s: %w", localPath, err)
	}

	key := b.objectKey(name)
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		StorageClass:  b.storageClass,
	})
	if err != nil {
		return fmt.Errorf("s3: failed to upload %s: %w", key, err)
	}
	return nil
}

// Get downloads the named object into localPath.
func (b *Backend) Get(ctx context.Context, name, localPath string) error {
	key := b.objectKey(name)
	output, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3: failed to download %s: %w", key, err)
	}
	defer output.Body.Close()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("s3: failed to create %s: %w", localPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, output.Body); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("s3: failed to write %s: %w", localPath, err)
	}
	return nil
}

// List returns every object under the backend prefix whose name starts with
// the given name prefix.
func (b *Backend) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	keyPrefix := b.objectKey(prefix)

	var objects []storage.Object
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(keyPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: failed to list objects with prefix %s: %w", keyPrefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			name := strings.TrimPrefix(*obj.Key, b.prefix+"/")
			o := storage.Object{Name: name}
			if obj.Size != nil {
				o.Size = *obj.Size
			}
			objects = append(objects, o)
		}
	}

	return objects, nil
}
