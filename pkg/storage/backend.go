package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("storage: key not found")

// BlobStore defines the interface for abstract storage backends.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Open returns a backend for target: "s3://bucket/prefix" or a local directory.
func Open(ctx context.Context, target string) (BlobStore, error) {
	if !strings.HasPrefix(target, "s3://") {
		return NewLocalStore(target), nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid s3 url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid s3 url %q: missing bucket", target)
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewS3Store(cfg, u.Host, strings.Trim(u.Path, "/")), nil
}
