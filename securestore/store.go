// Package securestore provides the local key-value stores the
// destruction engine operates on: an encrypted-at-rest file store for
// secrets, and a plain in-memory store used for ephemeral caches.
//
// The engine only depends on the Store interface. Delete of a missing
// key is not an error, and Set overwrites the key's value in place with
// exclusive per-key semantics.
package securestore

import "errors"

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// Store is a minimal string-keyed byte store.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)
	// Set writes value under key, replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	// Keys lists all keys currently present.
	Keys() ([]string, error)
}
