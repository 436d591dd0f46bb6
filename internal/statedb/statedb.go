// Package statedb provides the durable key/value store backing the
// per-session tracker state (collection flags, filter selection,
// preferences, last-selected map). Each consumer owns its key and is the
// only writer for it.
package statedb

import "errors"

// ErrQuota is returned by Set when the value exceeds the store's capacity
// limit. The write is refused; nothing is persisted.
var ErrQuota = errors.New("statedb: value exceeds storage quota")

// Store is the persistence interface handed to the state-owning components.
type Store interface {
	// Get returns the stored value for key and whether it was present.
	Get(key string) ([]byte, bool, error)
	// Set persists value under key, replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	Close() error
}
