package repository

import "context"

// Well-known keys.
const (
	KeySavedChats = "savedChats"
	KeySettings   = "settings"
)

// Store is a durable key-value store holding one serialized record per key.
// Set replaces the whole value in a single write, so readers never observe a
// partially written record.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
