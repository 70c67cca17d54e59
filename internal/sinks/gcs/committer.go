// Package gcs implements a Google Cloud Storage commit sink for checkpoint
// artifacts.
package gcs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/hash/sha256"
)

// Committer publishes checkpoint artifacts as versioned objects in a GCS
// bucket. A commit whose content digest matches the previous commit is a
// no-op, so forced commits never produce duplicate objects.
type Committer struct {
	client *storage.Client
	bucket string
	prefix string
	hasher *sha256.Hasher

	mu         sync.Mutex
	lastDigest string
}

// New initializes a GCS client and verifies the bucket is reachable.
// Authentication follows Application Default Credentials.
func New(ctx context.Context, bucket, prefix string) (*Committer, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage.gcs_bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", bucket, err)
	}
	if prefix == "" {
		prefix = "checkpoints"
	}
	return &Committer{
		client: client,
		bucket: bucket,
		prefix: prefix,
		hasher: sha256.New(),
	}, nil
}

// Commit writes the label as a timestamped object under the configured
// prefix. It returns false without writing when the label is unchanged since
// the previous commit.
func (c *Committer) Commit(ctx context.Context, label string) (bool, error) {
	digest := c.hasher.Hash([]byte(label))

	c.mu.Lock()
	unchanged := digest == c.lastDigest
	c.mu.Unlock()
	if unchanged {
		return false, nil
	}

	name := fmt.Sprintf("%s/%s.txt", c.prefix, time.Now().UTC().Format("20060102T150405Z"))
	w := c.client.Bucket(c.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"
	if _, err := w.Write([]byte(label)); err != nil {
		_ = w.Close()
		return false, fmt.Errorf("write gcs object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return false, fmt.Errorf("close gcs object %s: %w", name, err)
	}

	c.mu.Lock()
	c.lastDigest = digest
	c.mu.Unlock()
	return true, nil
}

// Close releases the underlying client.
func (c *Committer) Close() error {
	return c.client.Close()
}
