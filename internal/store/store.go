// Package store provides storage backends for AlienChat.
//
// Everything the application persists goes through the opaque KV interface: one string value
// per key. Backends exist for memory, SQLite, PostgreSQL and Redis.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DSN types recognized by DetectDSNType.
const (
	DSNTypeMemory   = "memory"
	DSNTypeSQLite   = "sqlite3"
	DSNTypePostgres = "postgres"
	DSNTypeRedis    = "redis"
)

// KV is an opaque string key to string value store.
type KV interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string // data source name: file path, postgres://, redis:// or "memory"
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithDSN sets the data source name used to pick and open a backend.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the DSN for a PostgreSQL backend.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the database file path for an SQLite backend.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisURL sets the redis:// URL for a Redis backend.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.DSN = url }
}

// DetectDSNType determines the backend for a DSN.
// Empty or "memory" selects the in-memory store, postgres URLs and key=value
// connection strings select PostgreSQL, redis URLs select Redis, and anything
// else is treated as an SQLite file path.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	switch {
	case d == "" || d == DSNTypeMemory:
		return DSNTypeMemory
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"):
		return DSNTypePostgres
	case strings.Contains(d, "host=") && strings.Contains(d, "dbname="):
		return DSNTypePostgres
	case strings.HasPrefix(d, "redis://"), strings.HasPrefix(d, "rediss://"):
		return DSNTypeRedis
	default:
		return DSNTypeSQLite
	}
}

// NewKV opens the backend selected by the configured DSN.
func NewKV(opts ...Option) (KV, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	kind := DetectDSNType(cfg.DSN)
	slog.Debug("store.NewKV: selecting backend", "type", kind, "DSN_set", cfg.DSN != "")

	switch kind {
	case DSNTypeMemory:
		return NewInMemoryKV(), nil
	case DSNTypePostgres:
		return NewPostgresKV(opts...)
	case DSNTypeRedis:
		return NewRedisKV(opts...)
	case DSNTypeSQLite:
		return NewSQLiteKV(opts...)
	default:
		return nil, fmt.Errorf("unsupported DSN type %q", kind)
	}
}
