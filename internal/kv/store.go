// Package kv holds the persisted-state backends. The memo collection is kept
// as a single value under a fixed key, so the interface is a plain
// get/put key-value contract.
package kv

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrNotFound = errors.New("kv: key not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Mode() string
	Close() error
}

// NewStore picks a backend from storeURL:
//
//	""                  in-memory
//	memory://           in-memory
//	file:///var/lib/x   one JSON file per key in that directory
//	sqlite:///path.db   sqlite database
//	postgres://...      postgres database
func NewStore(ctx context.Context, storeURL string) (Store, error) {
	raw := strings.TrimSpace(storeURL)
	if raw == "" {
		return NewMemoryStore(), nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(localPath(u))
	case "sqlite", "sqlite3":
		return NewSQLiteStore(ctx, localPath(u))
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, raw)
	default:
		return nil, fmt.Errorf("unsupported store url scheme %q", u.Scheme)
	}
}

// localPath accepts both file:///abs/path and file://relative/path forms.
func localPath(u *url.URL) string {
	if u.Host != "" {
		return u.Host + u.Path
	}
	if u.Opaque != "" {
		return u.Opaque
	}
	return u.Path
}
