// Package media stores evidence images in S3-compatible object storage.
package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"studyhub/api/internal/util"
)

// Config holds S3/MinIO configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string // Public URL for accessing uploaded files
}

// Client wraps MinIO client with evidence upload functionality
type Client struct {
	client    *minio.Client
	bucket    string
	publicURL string
	logger    *zerolog.Logger
	now       func() time.Time
}

// NewClient creates a new S3/MinIO client
func NewClient(cfg Config, logger *zerolog.Logger) (*Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + cfg.Endpoint
	}

	return &Client{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: publicURL,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// EnsureBucket creates bucket if it doesn't exist and sets public read policy
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	c.logger.Info().Str("bucket", c.bucket).Msg("created S3 bucket")

	if err := c.client.SetBucketPolicy(ctx, c.bucket, publicReadPolicy(c.bucket)); err != nil {
		c.logger.Warn().Err(err).Msg("failed to set public bucket policy, images may not be publicly accessible")
	}
	return nil
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{
		"Version": "2012-10-17",
		"Statement": [
			{
				"Effect": "Allow",
				"Principal": {"AWS": ["*"]},
				"Action": ["s3:GetObject"],
				"Resource": ["arn:aws:s3:::%s/*"]
			}
		]
	}`, bucket)
}

// Upload stores an evidence image and returns its public URL.
func (c *Client) Upload(ctx context.Context, sessionID int64, img Image) (string, error) {
	objectKey := c.objectKey(sessionID, img)
	_, err := c.client.PutObject(ctx, c.bucket, objectKey, bytes.NewReader(img.Data), int64(len(img.Data)), minio.PutObjectOptions{
		ContentType: img.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload evidence image: %w", err)
	}

	publicURL := c.PublicURL(objectKey)
	c.logger.Debug().
		Int64("session_id", sessionID).
		Str("object_key", objectKey).
		Str("url", publicURL).
		Msg("uploaded evidence image")
	return publicURL, nil
}

// Delete removes the object behind a URL this client issued. URLs it did
// not issue are ignored.
func (c *Client) Delete(ctx context.Context, url string) error {
	objectKey, ok := c.ObjectKey(url)
	if !ok {
		return nil
	}
	if err := c.client.RemoveObject(ctx, c.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete evidence image: %w", err)
	}
	c.logger.Debug().Str("object_key", objectKey).Msg("deleted evidence image")
	return nil
}

// Path structure: evidence/{session_id}/{YYYY}/{MM}/{DD}/{id}.{ext}
func (c *Client) objectKey(sessionID int64, img Image) string {
	now := c.now().UTC()
	return fmt.Sprintf(
		"evidence/%d/%d/%02d/%02d/%s%s",
		sessionID,
		now.Year(),
		now.Month(),
		now.Day(),
		util.NewID(""),
		img.Extension(),
	)
}

// PublicURL returns public URL for the given object key
func (c *Client) PublicURL(objectKey string) string {
	return fmt.Sprintf("%s/%s/%s", c.publicURL, c.bucket, objectKey)
}

// ObjectKey extracts the object key from a URL issued by PublicURL.
func (c *Client) ObjectKey(url string) (string, bool) {
	prefix := fmt.Sprintf("%s/%s/", c.publicURL, c.bucket)
	if !strings.HasPrefix(url, prefix) || len(url) == len(prefix) {
		return "", false
	}
	return strings.TrimPrefix(url, prefix), true
}
