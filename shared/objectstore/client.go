package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("object not found")

// Config holds S3-compatible storage configuration
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PublicBaseURL string
	CDNBaseURL    string
}

// Location is where a stored object can be fetched from
type Location struct {
	URL    string
	CDNURL string
}

// Object describes a stored object
type Object struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// userMetaPrefix is how listings with metadata name user metadata keys
const userMetaPrefix = "x-amz-meta-"

// Meta returns a user metadata value, ignoring key case and the
// x-amz-meta- prefix
func (o Object) Meta(key string) string {
	for k, v := range o.Metadata {
		k = strings.ToLower(k)
		if strings.EqualFold(strings.TrimPrefix(k, userMetaPrefix), key) {
			return v
		}
	}
	return ""
}

// Client represents an object storage client
type Client struct {
	client *minio.Client
	config *Config
	logger *slog.Logger
}

// NewClient creates a new object storage client and makes sure the bucket exists
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	logger.Info("Connecting to object storage",
		slog.String("endpoint", config.Endpoint),
		slog.String("bucket", config.Bucket),
	)

	mc, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	exists, err := mc.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("Created storage bucket", slog.String("bucket", config.Bucket))
	}

	return &Client{
		client: mc,
		config: config,
		logger: logger,
	}, nil
}

// URLFor returns the public and CDN URLs of a key
func (c *Client) URLFor(key string) Location {
	return locate(c.config, key)
}

func locate(config *Config, key string) Location {
	base := strings.TrimRight(config.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if config.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, config.Endpoint, config.Bucket)
	}

	loc := Location{URL: base + "/" + key}
	loc.CDNURL = loc.URL
	if cdn := strings.TrimRight(config.CDNBaseURL, "/"); cdn != "" {
		loc.CDNURL = cdn + "/" + key
	}
	return loc
}

// Put uploads data under key with optional user metadata
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (Location, error) {
	_, err := c.client.PutObject(ctx, c.config.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return Location{}, fmt.Errorf("failed to put object %s: %w", key, err)
	}

	c.logger.Debug("Object stored",
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.String("content_type", contentType),
	)

	return c.URLFor(key), nil
}

// Get downloads an object
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, c.config.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, c.translate(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, c.translate(key, err)
	}
	return data, nil
}

// Stat returns object metadata
func (c *Client) Stat(ctx context.Context, key string) (Object, error) {
	info, err := c.client.StatObject(ctx, c.config.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return Object{}, c.translate(key, err)
	}
	return toObject(info), nil
}

// Delete removes an object. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.client.RemoveObject(ctx, c.config.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}

	c.logger.Info("Object deleted", slog.String("key", key))
	return nil
}

// List returns every object under prefix
func (c *Client) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	for info := range c.client.ListObjects(ctx, c.config.Bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, info.Err)
		}
		objects = append(objects, toObject(info))
	}
	return objects, nil
}

func toObject(info minio.ObjectInfo) Object {
	return Object{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
		Metadata:     info.UserMetadata,
	}
}

func (c *Client) translate(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Errorf("storage %s: %w", key, err)
}

// HealthCheck verifies the bucket is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := c.client.BucketExists(ctx, c.config.Bucket); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	return nil
}
