// Package keyvalue abstracts the engine's persistence behind a small
// key-value contract, so the same registry logic runs against memory,
// a file, or a remote store.
package keyvalue

import (
	"context"
	"errors"
)

// Store errors.
var (
	// ErrNotFound is returned when a requested key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// Store provides access to one key-value namespace.
// Values are opaque byte slices; the registry stores one JSON document
// per slot.
type Store interface {
	// Get retrieves the value for key. Returns ErrNotFound if not exists.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the value for key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
