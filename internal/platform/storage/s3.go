// Package storage archives generated documents in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config carries connection settings for the archive bucket.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// ObjectPutter is the subset of the S3 client used by Archive.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive writes documents to a single bucket.
type Archive struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

// Option configures Archive.
type Option func(*Archive)

// WithPrefix sets a key prefix applied to every object.
func WithPrefix(prefix string) Option {
	return func(a *Archive) {
		a.prefix = strings.Trim(prefix, "/")
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// NewS3Archive builds an archive from configuration. Static credentials are used
// when provided, otherwise the default AWS credential chain applies.
func NewS3Archive(ctx context.Context, cfg S3Config, opts ...Option) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newArchive(client, cfg.Bucket, opts...), nil
}

func newArchive(client ObjectPutter, bucket string, opts ...Option) *Archive {
	a := &Archive{client: client, bucket: bucket, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewArchive builds an archive around an existing client.
func NewArchive(client ObjectPutter, bucket string, opts ...Option) *Archive {
	return newArchive(client, bucket, opts...)
}

// Put stores body under key and returns the full object key.
func (a *Archive) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	if a == nil || a.client == nil {
		return "", errors.New("storage: archive not configured")
	}
	objectKey := strings.TrimLeft(key, "/")
	if a.prefix != "" {
		objectKey = a.prefix + "/" + objectKey
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("storage: put %s: %w", objectKey, err)
	}
	a.logger.Debug("document archived", slog.String("bucket", a.bucket), slog.String("key", objectKey))
	return objectKey, nil
}
