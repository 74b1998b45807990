// Package s3 implements the blob store on an S3-compatible bucket (AWS S3 or
// MinIO) through aws-sdk-go-v2.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"ndxchannels/internal/blob/core"
)

var _ core.Store = (*Store)(nil)

// Environment variables read by OpenFromEnv. Credentials come from the
// default AWS chain (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, ...).
const (
	EnvBucket    = "NDXCHANNELS_BLOB_S3_BUCKET"
	EnvRegion    = "NDXCHANNELS_BLOB_S3_REGION"
	EnvEndpoint  = "NDXCHANNELS_BLOB_S3_ENDPOINT"
	EnvPathStyle = "NDXCHANNELS_BLOB_S3_PATH_STYLE"
)

// DefaultRegion is used when Config.Region is empty.
const DefaultRegion = "us-east-1"

// Client is the subset of the S3 API the store calls.
type Client interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store implements core.Store on a single bucket. Keys map to object keys.
type Store struct {
	client Client
	bucket string
}

// Config holds explicit construction parameters.
type Config struct {
	Region    string
	Bucket    string
	Endpoint  string // custom endpoint, e.g. MinIO
	PathStyle bool
	// HTTPClient replaces the SDK transport; tests use it to avoid the network.
	HTTPClient *http.Client
	// ConfigOptions are appended to config.LoadDefaultConfig.
	ConfigOptions []func(*config.LoadOptions) error
}

// New creates a store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}
	loadOpts := append([]func(*config.LoadOptions) error{config.WithRegion(region)}, cfg.ConfigOptions...)
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	return NewWithClient(client, cfg.Bucket), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// OpenFromEnv constructs a store from NDXCHANNELS_BLOB_S3_* variables.
func OpenFromEnv(ctx context.Context) (*Store, error) {
	bucket := os.Getenv(EnvBucket)
	if bucket == "" {
		return nil, fmt.Errorf("%s required for s3 driver", EnvBucket)
	}
	return New(ctx, Config{
		Bucket:    bucket,
		Region:    os.Getenv(EnvRegion),
		Endpoint:  os.Getenv(EnvEndpoint),
		PathStyle: strings.EqualFold(os.Getenv(EnvPathStyle), "true"),
	})
}

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Driver returns core.DriverS3.
func (s *Store) Driver() core.Driver { return core.DriverS3 }

// Put uploads r. Create-only semantics are emulated with a HeadObject probe.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if strings.TrimSpace(key) == "" {
		return core.Info{}, fmt.Errorf("%w: empty key", core.ErrInvalidKey)
	}
	if !opts.Overwrite {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
		switch {
		case err == nil:
			return core.Info{}, fmt.Errorf("%w: %s", core.ErrExists, key)
		case !isNotFound(err):
			return core.Info{}, fmt.Errorf("head %s: %w", key, err)
		}
	}
	input := &s3.PutObjectInput{Bucket: &s.bucket, Key: &key, Body: r}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = core.CloneMetadata(opts.Metadata)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return core.Info{}, fmt.Errorf("put %s: %w", key, err)
	}
	return s.Head(ctx, key)
}

// Get streams the object body; the caller closes it.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return core.Info{}, nil, s.mapError(key, err)
	}
	info := toInfo(key, out.ContentLength, out.ContentType, out.ETag, out.Metadata, out.LastModified)
	return info, out.Body, nil
}

// Head returns object metadata.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return core.Info{}, s.mapError(key, err)
	}
	return toInfo(key, out.ContentLength, out.ContentType, out.ETag, out.Metadata, out.LastModified), nil
}

// Delete removes the object. S3 deletes are idempotent, so existence is
// checked with HeadObject first.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if _, err := s.Head(ctx, key); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return true, nil
}

// List pages through ListObjectsV2.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &prefix, ContinuationToken: token})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			infos = append(infos, core.Info{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *Store) mapError(key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}
	return fmt.Errorf("s3 %s/%s: %w", s.bucket, key, err)
}

// isNotFound matches both modeled (NotFound, NoSuchKey) and bare 404 responses.
func isNotFound(err error) bool {
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		switch coded.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func toInfo(key string, size *int64, contentType, etag *string, md map[string]string, lastModified *time.Time) core.Info {
	return core.Info{
		Key:          key,
		Size:         aws.ToInt64(size),
		ContentType:  aws.ToString(contentType),
		ETag:         strings.Trim(aws.ToString(etag), `"`),
		Metadata:     core.CloneMetadata(md),
		LastModified: aws.ToTime(lastModified),
	}
}
