// Package archive keeps the raw LIS payload of every reconciliation pass so a
// pass can be audited or replayed after the fact.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type Archiver interface {
	Archive(ctx context.Context, job string, body []byte) error
}

// NopArchiver discards payloads. Used when no bucket is configured.
type NopArchiver struct{}

func (NopArchiver) Archive(context.Context, string, []byte) error { return nil }

// Key returns the object key for a payload fetched by job at t.
func Key(job string, t time.Time, id uuid.UUID) string {
	return fmt.Sprintf("sync/%s/%s-%s.json", job, t.UTC().Format(time.RFC3339), id)
}

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, e.g. MinIO
	PathStyle bool
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes payloads to an S3-compatible bucket.
type S3Archiver struct {
	client objectPutter
	bucket string
	now    func() time.Time
}

func NewS3Archiver(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Archiver{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, job string, body []byte) error {
	key := Key(job, a.now(), uuid.New())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"job": job},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
