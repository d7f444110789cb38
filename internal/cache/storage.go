package cache

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Cache.Match on a miss.
	ErrNotFound = errors.New("cache: entry not found")
	// ErrQuotaExceeded is returned when a namespace cannot take more entries.
	ErrQuotaExceeded = errors.New("cache: quota exceeded")
)

// Storage is the set of named cache namespaces.
type Storage interface {
	// Open returns the named cache. Implementations may defer creating a
	// missing namespace until its first Put.
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	// Delete drops a whole namespace and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Keys lists namespace names.
	Keys(ctx context.Context) ([]string, error)
}

// Cache is one namespace of request key → response entries.
type Cache interface {
	Name() string
	Match(ctx context.Context, key string) (*Entry, error)
	// Put stores e under key, superseding any previous entry.
	Put(ctx context.Context, key string, e *Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	Len(ctx context.Context) (int, error)
}
