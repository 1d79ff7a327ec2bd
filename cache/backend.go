// Package cache is the keyed, TTL-bounded result store that sits between the
// provider clients and their callers, together with the monthly usage ledger
// and quota enforcement.
//
// Values are persisted through a Backend. Three are provided: an in-process
// map, a SQLite file, and a NATS JetStream key-value bucket.
package cache

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Backend.Get when the key is absent.
var ErrNotFound = errors.New("cache: key not found")

// Backend is a flat byte store. Implementations must be safe for concurrent
// use.
type Backend interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key. It returns false with a nil error when
	// the store is full, so the caller can evict and retry.
	Put(ctx context.Context, key string, value []byte) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists keys beginning with prefix in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}
