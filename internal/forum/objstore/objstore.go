// Package objstore stores message attachment bodies in S3-compatible storage.
//
// The server never proxies attachment bytes. Clients upload and download
// directly against presigned URLs with a short expiry.
package objstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// Config holds S3-compatible storage settings. MinIO deployments set the
// endpoint; plain AWS leaves it empty.
type Config struct {
	Endpoint   string        `env:"PALAVER_S3_ENDPOINT"`
	Region     string        `env:"PALAVER_S3_REGION"     envDefault:"us-east-1"`
	Bucket     string        `env:"PALAVER_S3_BUCKET"`
	AccessKey  string        `env:"PALAVER_S3_ACCESS_KEY"`
	SecretKey  string        `env:"PALAVER_S3_SECRET_KEY"`
	PresignTTL time.Duration `env:"PALAVER_S3_PRESIGN_TTL" envDefault:"15m"`
}

// LoadConfigFromEnv reads object storage configuration.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse object storage env: %w", err)
	}
	return cfg, nil
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("PALAVER_S3_BUCKET is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return fmt.Errorf("PALAVER_S3_ACCESS_KEY and PALAVER_S3_SECRET_KEY are required")
	}
	if c.PresignTTL <= 0 {
		return fmt.Errorf("presign ttl must be positive")
	}
	return nil
}

// Client presigns attachment operations against a single bucket.
type Client struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

// New builds an object storage client from config.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.Endpoint != ""
	})

	return &Client{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		ttl:     cfg.PresignTTL,
	}, nil
}

// NewObjectKey mints a date-partitioned storage key for a new attachment.
func NewObjectKey() string {
	now := time.Now().UTC()
	return fmt.Sprintf("attachments/%04d/%02d/%02d/%s", now.Year(), now.Month(), now.Day(), uuid.New())
}

// PresignPut returns a URL the client can PUT the attachment body to.
func (c *Client) PresignPut(ctx context.Context, key string) (string, error) {
	req, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(c.ttl))
	if err != nil {
		return "", fmt.Errorf("presign put %s: %w", key, err)
	}
	return req.URL, nil
}

// PresignGet returns a URL the client can fetch the attachment body from.
func (c *Client) PresignGet(ctx context.Context, key string) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(c.ttl))
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", key, err)
	}
	return req.URL, nil
}

// Delete removes an attachment body. Deleting an absent key succeeds.
func (c *Client) Delete(ctx context.Context, key string) error {
	if _, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
