// Package cache keeps completed job envelopes so identical requests are not
// executed or billed twice within the TTL.
package cache

import (
	"context"
	"time"
)

const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 1000
)

// Entry is a cached, already-serialized envelope.
type Entry struct {
	Key       string
	Body      []byte
	CreatedAt time.Time
}

// Store is safe for concurrent use. An entry whose age has reached the TTL is
// never returned, whether or not Evict has run.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, key string, body []byte) error
	// Evict removes expired entries and reports how many were dropped.
	Evict(ctx context.Context) (int, error)
}
