// Package s3blob uploads state snapshots to S3-compatible object storage
// (AWS S3, MinIO, Cloudflare R2) for post-incident inspection. Snapshots are
// write-only from the liquidator's point of view; recovery uses the primary
// state store.
package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

// ClientConfig holds connection parameters for the object store.
type ClientConfig struct {
	// Endpoint overrides the S3 endpoint for compatible providers. Leave
	// empty for standard AWS S3.
	Endpoint string
	Region   string
	Bucket   string
	// Prefix is prepended to every snapshot key.
	Prefix    string
	AccessKey string
	SecretKey string
	// UseSSL applies when Endpoint is given without a scheme.
	UseSSL bool
	// ForcePathStyle puts the bucket in the path rather than the subdomain,
	// required by MinIO and most S3-compatible providers.
	ForcePathStyle bool
}

// Archiver implements domain.Archiver against an S3 bucket.
type Archiver struct {
	s3     *s3.Client
	bucket string
	prefix string
}

var _ domain.Archiver = (*Archiver)(nil)

// New creates an Archiver from the given configuration.
func New(ctx context.Context, cfg ClientConfig) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint, cfg.UseSSL)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Archiver{
		s3:     s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Health performs a HeadBucket call to verify connectivity and permissions.
func (a *Archiver) Health(ctx context.Context) error {
	_, err := a.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: health check failed for bucket %s: %w", a.bucket, err)
	}
	return nil
}

// ArchiveSnapshot uploads one serialized state snapshot. Keys are
// partitioned by day with a timestamped filename:
//
//	snapshots/2026-08-29/state-20260829T143000Z.json
func (a *Archiver) ArchiveSnapshot(ctx context.Context, taken time.Time, payload []byte) error {
	key := a.snapshotKey(taken)
	_, err := a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload snapshot %s: %w", key, err)
	}
	return nil
}

func (a *Archiver) snapshotKey(taken time.Time) string {
	t := taken.UTC()
	key := fmt.Sprintf("snapshots/%s/state-%s.json",
		t.Format("2006-01-02"), t.Format("20060102T150405Z"))
	if a.prefix != "" {
		return a.prefix + "/" + key
	}
	return key
}

// normaliseEndpoint ensures the endpoint has a scheme.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}
