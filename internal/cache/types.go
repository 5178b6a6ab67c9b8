package cache

import "context"

// Cache stores raw JSON-RPC results keyed by request.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached data and true if found
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores data under key
	Set(ctx context.Context, key string, value []byte)

	// Name identifies the backend in metrics and logs
	Name() string

	// Close releases any resources held by the cache
	Close() error
}
