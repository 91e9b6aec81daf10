// Package cache holds the string key/value stores the calendar service
// reads through. Implementations must be safe for concurrent use.
package cache

import (
	"context"
	"time"
)

// Cache is a string store with per-entry TTL. GetString reports a miss as
// ok == false with a nil error; err is reserved for backend failures.
type Cache interface {
	GetString(ctx context.Context, key string) (value string, ok bool, err error)
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
}
