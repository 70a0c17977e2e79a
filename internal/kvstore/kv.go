// Package kvstore provides the durable key-value storage the providers use
// for session blobs, biometric snapshots, and offline record persistence.
// Values survive process restarts when backed by the sqlite implementation.
package kvstore

import "context"

// Store is a flat key-value store with prefix enumeration.
//
// Get returns (nil, nil) when the key is absent; absence is not an error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// List returns all entries whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)

	Close() error
}
