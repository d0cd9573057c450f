// Package s3blob stores settled-pool archives in S3 or an S3-compatible
// object store (MinIO, R2, iDrive e2) through AWS SDK v2.
package s3blob

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the object store connection settings.
type ClientConfig struct {
	// Endpoint is empty for AWS S3, or the provider URL otherwise.
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// Prefix is prepended to every object key.
	Prefix string
	// UseSSL picks the scheme for an Endpoint given without one.
	UseSSL         bool
	ForcePathStyle bool
}

// Client wraps the SDK client with its bucket and key prefix.
type Client struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// New builds a Client. Static credentials are used when an access key is
// set; otherwise the SDK default chain applies.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &Client{s3: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// Health checks that the bucket is reachable with the configured credentials.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// key maps a logical path to the object key.
func (c *Client) key(path string) string {
	path = strings.TrimLeft(path, "/")
	if c.prefix == "" {
		return path
	}
	return c.prefix + "/" + path
}

// logical strips the key prefix again.
func (c *Client) logical(key string) string {
	if c.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, c.prefix+"/")
}

func normaliseEndpoint(endpoint string, useSSL bool) string {
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
