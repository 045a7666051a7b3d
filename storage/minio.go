package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/isdmx/taskdock/config"
	"github.com/isdmx/taskdock/taskrun"
)

// Config holds connection settings for the object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Client implements taskrun.ObjectStore against an S3-compatible store.
// It is safe for concurrent use.
type Client struct {
	mc     *minio.Client
	logger *zap.Logger

	// A cache of directory placeholders already created or verified.
	mu       sync.Mutex
	dirCache map[string]struct{}
}

// New creates an object-store client. Credentials may be empty when the
// endpoint allows anonymous access.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint is required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating the storage client: %w", err)
	}
	return &Client{mc: mc, logger: logger, dirCache: make(map[string]struct{})}, nil
}

// NewFromConfig creates the object store from the application
// configuration.
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (taskrun.ObjectStore, error) {
	return New(Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	}, logger)
}

// splitStoragePath splits a storage path like "my-bucket/stuff/file.txt"
// into its bucket and object-key parts.
func splitStoragePath(storagePath string) (bucket, key string, err error) {
	bucket, key, _ = strings.Cut(strings.TrimPrefix(storagePath, "/"), "/")
	if len(bucket) < 3 {
		// Bucket names are at least three characters; anything shorter
		// means the path lost its bucket part somewhere.
		return "", "", fmt.Errorf("invalid bucket name in storage path %q", storagePath)
	}
	return bucket, key, nil
}

func namesADirectory(p string) bool {
	return strings.HasSuffix(p, "/")
}

// UploadTree uploads a file or a directory tree as (not into) storagePath.
// Within a tree every file is attempted even after a failure; the first
// failure is returned.
func (c *Client) UploadTree(ctx context.Context, localPath, storagePath string) error {
	if !namesADirectory(storagePath) {
		return c.uploadFile(ctx, localPath, storagePath)
	}

	root := strings.TrimSuffix(localPath, "/")
	var firstErr error
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		if upErr := c.uploadFile(ctx, p, path.Join(storagePath, filepath.ToSlash(rel))); upErr != nil && firstErr == nil {
			firstErr = upErr
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %q: %w", localPath, err)
	}
	return firstErr
}

func (c *Client) uploadFile(ctx context.Context, localPath, storagePath string) error {
	bucket, key, err := splitStoragePath(storagePath)
	if err != nil {
		return err
	}
	c.makeDirs(ctx, bucket, key)

	c.logger.Debug("uploading object",
		zap.String("local", localPath), zap.String("key", key))
	if _, err := c.mc.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("uploading %q as %q: %w", localPath, storagePath, err)
	}
	return nil
}

// makeDirs creates zero-byte "dir/" placeholder objects for every parent of
// key, e.g. "sim/" and "sim/logs/" for "sim/logs/task.log". A placeholder
// failure only degrades fuse-mount listings, so it is logged and ignored.
func (c *Client) makeDirs(ctx context.Context, bucket, key string) {
	parts := strings.Split(key, "/")
	prefix := ""
	for _, part := range parts[:len(parts)-1] {
		prefix = prefix + part + "/"

		cacheKey := bucket + "/" + prefix
		c.mu.Lock()
		_, seen := c.dirCache[cacheKey]
		c.dirCache[cacheKey] = struct{}{}
		c.mu.Unlock()
		if seen {
			continue
		}

		if _, err := c.mc.StatObject(ctx, bucket, prefix, minio.StatObjectOptions{}); err == nil {
			continue
		}
		_, err := c.mc.PutObject(ctx, bucket, prefix, strings.NewReader(""), 0,
			minio.PutObjectOptions{ContentType: "application/octet-stream"})
		if err != nil {
			c.logger.Warn("failed to make a directory placeholder",
				zap.String("key", prefix), zap.Error(err))
		}
	}
}

// DownloadTree downloads a file or a directory tree as (not into)
// localPath, creating local directories as needed. Within a tree every
// object is attempted even after a failure; the first failure is returned.
func (c *Client) DownloadTree(ctx context.Context, storagePath, localPath string) error {
	if !namesADirectory(storagePath) {
		return c.downloadFile(ctx, storagePath, localPath)
	}

	bucket, key, err := splitStoragePath(storagePath)
	if err != nil {
		return err
	}

	root := strings.TrimSuffix(localPath, "/")
	var firstErr error
	for obj := range c.mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    key,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("listing %q: %w", storagePath, obj.Err)
		}

		rel := strings.TrimPrefix(obj.Key, key)
		target := filepath.Join(root, filepath.FromSlash(rel))
		if strings.HasSuffix(obj.Key, "/") {
			// A directory placeholder object.
			if err := os.MkdirAll(target, 0755); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := c.downloadObject(ctx, bucket, obj.Key, target); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) downloadFile(ctx context.Context, storagePath, localPath string) error {
	bucket, key, err := splitStoragePath(storagePath)
	if err != nil {
		return err
	}
	return c.downloadObject(ctx, bucket, key, localPath)
}

func (c *Client) downloadObject(ctx context.Context, bucket, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("creating directories for %q: %w", localPath, err)
	}
	c.logger.Debug("downloading object",
		zap.String("key", key), zap.String("local", localPath))
	if err := c.mc.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("downloading %q as %q: %w", key, localPath, err)
	}
	return nil
}
