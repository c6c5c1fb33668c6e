// Package media stores uploaded post media in an S3 compatible bucket.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/socialcore/domain"
)

const DefaultMaxBytes = 50 << 20

var (
	ErrEmptyMedia    = errors.New("media payload is empty")
	ErrMediaTooLarge = errors.New("media payload exceeds the size limit")
)

// S3Config describes the bucket media is written to. Endpoint and
// UsePathStyle are needed for MinIO and other non-AWS deployments.
type S3Config struct {
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string // base of the URLs handed to clients
	UsePathStyle  bool
	MaxBytes      int64
}

// PutObjectAPI is the part of *s3.Client the uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds a client with static credentials when they are set,
// falling back to the default AWS credential chain otherwise.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Uploader implements domain.MediaUploader.
type S3Uploader struct {
	api           PutObjectAPI
	bucket        string
	publicBaseURL string
	maxBytes      int64
	now           func() time.Time
	newID         func() string
}

func NewS3Uploader(api PutObjectAPI, cfg S3Config) *S3Uploader {
	base := cfg.PublicBaseURL
	if base == "" {
		base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &S3Uploader{
		api:           api,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(base, "/"),
		maxBytes:      maxBytes,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// Upload stores the payload under media/<yyyy>/<mm>/<dd>/<uuid>.
func (u *S3Uploader) Upload(ctx context.Context, r io.Reader, contentType string) (*domain.UploadedMedia, error) {
	data, err := io.ReadAll(io.LimitReader(r, u.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyMedia
	}
	if int64(len(data)) > u.maxBytes {
		return nil, ErrMediaTooLarge
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("media/%s/%s", u.now().UTC().Format("2006/01/02"), u.newID())
	_, err = u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload media to S3: %w", err)
	}

	log.Debug().Str("bucket", u.bucket).Str("key", key).Int("bytes", len(data)).Msg("Media uploaded")
	return &domain.UploadedMedia{
		URL:          u.publicBaseURL + "/" + key,
		ID:           key,
		ResourceType: ResourceType(contentType),
	}, nil
}

// ResourceType classifies a MIME type as "image", "video" or "raw".
func ResourceType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	default:
		return "raw"
	}
}

var _ domain.MediaUploader = (*S3Uploader)(nil)
