package cache

import "errors"

// ValidationError reports a caller-input contract violation: a bad path
// list, an oversized or illegal key, or too many keys. It is the one failure
// class that always propagates unmasked, in both restore and save, because it
// indicates a usage bug that silent degradation would hide.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ErrNothingToCache is returned by Save when none of the requested paths
// exist on disk. Unlike transport failures this is a hard stop: it usually
// indicates a caller misconfiguration.
var ErrNothingToCache = errors.New("none of the requested paths exist, nothing to cache")

// ErrArchiveTooLarge is returned by Save when the packed archive exceeds the
// backend's size ceiling. The check runs before any upload purely to save
// bandwidth; the authoritative limit is backend-side.
var ErrArchiveTooLarge = errors.New("archive exceeds the maximum allowed size")
