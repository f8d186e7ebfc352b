// Package storage implements the persisted-state layer described in
// SPEC_FULL.md §6.2: a pluggable key/value abstraction used by the
// identity, trust and ledger components, backed either by ledger.db's
// kv_store table (SQLite via modernc.org/sqlite, selected through
// WEB4_BACKEND=native) or by an in-memory fallback (WEB4_BACKEND=fallback)
// used by tests and hosts that don't want a disk footprint.
package storage

import "trustcore/errkit"

// KV is the narrow persistence interface the identity, trust and ledger
// components depend on, keyed by an arbitrary string.
type KV interface {
	// Get unmarshals the stored value for key into out. ok is false if
	// the key does not exist; err is non-nil only on a storage or
	// decode failure.
	Get(key string, out any) (ok bool, err error)
	// Put marshals value and stores it under key, overwriting any
	// previous value.
	Put(key string, value any) error
	// Delete removes key. It is not an error if key does not exist.
	Delete(key string) error
	// Keys returns every stored key with the given prefix, in no
	// particular order. Callers that need a stable order sort the
	// result themselves.
	Keys(prefix string) ([]string, error)
	// NextSequence atomically increments and returns the counter for
	// scope, starting at 1. It backs per-project session numbering
	// (SPEC_FULL.md §6.2's session_sequence table) and any other
	// caller that needs a monotonic, gap-free counter rather than a
	// random identifier.
	NextSequence(scope string) (int64, error)
}

// ErrClosed is returned by operations on a Backend after Close.
var ErrClosed = errkit.New(errkit.CorruptState, "storage: backend closed")
