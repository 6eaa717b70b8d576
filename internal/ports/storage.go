package ports

import "context"

// Storage is the generic key/value persistence contract consumed by the
// mutation queue. Values are JSON-like documents: nested maps, slices,
// strings, float64 numbers, booleans and nil. Implementations must be safe for
// concurrent use.
//
// Read returns (nil, nil) when nothing is stored under key.
type Storage interface {
	Read(ctx context.Context, key string) (map[string]any, error)
	Write(ctx context.Context, key string, value map[string]any) error
}

// StorageDeleter is implemented by backends able to remove a key entirely.
type StorageDeleter interface {
	Delete(ctx context.Context, key string) error
}
