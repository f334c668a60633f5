package kv

import "context"

// DB is a key value database composed of isolated stores, one per collection.
type DB interface {
	// Store returns the store with the given name, creating it if it does not exist
	Store(name string) Store
	// DropStore removes the store with the given name and all of its values
	DropStore(ctx context.Context, name string) error
	// Close closes the database
	Close() error
}

// Store is a flat identifier -> document store owned by a single collection.
type Store interface {
	// Get returns the value stored under the identifier, or nil if it is absent
	Get(ctx context.Context, id string) ([]byte, error)
	// Put stores the value under the identifier, overwriting any previous value
	Put(ctx context.Context, id string, value []byte) error
	// Delete removes the identifier and its value. Deleting an absent identifier is not an error.
	Delete(ctx context.Context, id string) error
	// Scan iterates the store in unspecified order until fn returns false or an error
	Scan(ctx context.Context, fn func(id string, value []byte) (bool, error)) error
	// Clear removes every value in the store
	Clear(ctx context.Context) error
}
