// Package backends contains the storage backends that hold cache archives.
package backends

import (
	"context"
	"fmt"
)

// Entry is a backend's record of a previously saved archive. Entries are
// immutable once created: save creates them, restore reads them, nothing
// updates them in place.
type Entry struct {
	// Key is the exact key the entry matched. On a fallback hit this is a
	// restore key rather than the primary key.
	Key string

	// Version namespaces entries so archives only match when they were
	// packed under equivalent path/compression semantics.
	Version string

	// Size is the archive size in bytes, when the backend knows it.
	Size int64

	// Location is a backend-specific handle (object key, file path) that
	// Download uses to fetch the archive. Opaque to callers.
	Location string
}

// Backend defines the interface for cache storage backends.
//
// Implementations can be swapped to use different storage mechanisms. The
// orchestrator performs each operation at most once per invocation and never
// retries, so implementations don't need their own retry loops.
type Backend interface {
	// Lookup returns the best entry for the ordered key set under the
	// given version, or nil if nothing matches. A nil entry with a nil
	// error is an ordinary cache miss, not a failure.
	Lookup(ctx context.Context, keys []string, version string) (*Entry, error)

	// Download fetches an entry's archive into the local file at destPath.
	Download(ctx context.Context, entry *Entry, destPath string) error

	// Upload stores the local archive at srcPath under the given key and
	// version. If the backend already holds content for that key and
	// version it returns a *ReserveCacheError and leaves the existing
	// entry untouched.
	Upload(ctx context.Context, srcPath, key, version string) error

	// Close performs any cleanup operations needed by the backend.
	Close() error
}

// SizeLimiter is an optional capability for backends that enforce their own
// archive size ceiling. When the declared limit is larger than the default
// client-side ceiling, the orchestrator defers to it.
type SizeLimiter interface {
	MaxArchiveSize() int64
}

// ReserveCacheError reports that an upload lost a race: another writer
// already holds content under the same key and version. The second writer
// loses silently, so callers treat this as informational rather than as a
// failure.
type ReserveCacheError struct {
	Key     string
	Version string
}

func (e *ReserveCacheError) Error() string {
	return fmt.Sprintf("cache entry for key %q (version %s) is already reserved", e.Key, e.Version)
}
