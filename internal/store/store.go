// Package store defines the bucketed key-value storage behind the page cache.
package store

// Store is a bucketed key-value store. Missing buckets read as empty.
type Store interface {
	// Get returns a copy of the value, nil when absent.
	Get(bucket, key []byte) ([]byte, error)
	Put(bucket, key, value []byte) error
	Delete(bucket, key []byte) error
	// ForEach visits keys in byte order. Slices are only valid inside fn.
	ForEach(bucket []byte, fn func(key, value []byte) error) error
	// Replace atomically swaps the whole bucket for items.
	Replace(bucket []byte, items map[string][]byte) error
	Count(bucket []byte) (int, error)
	Close() error
}
