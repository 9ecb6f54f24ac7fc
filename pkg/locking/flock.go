package locking

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLock is a Group implementation backed by advisory file locks. It
// provides mutual exclusion across processes sharing a filesystem, which is
// what the disk backend needs when several CI jobs on one machine save under
// colliding keys.
type FileLock struct {
	dir string
}

// NewFileLock creates a FileLock that keeps its lock files in dir.
func NewFileLock(dir string) (*FileLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &FileLock{dir: dir}, nil
}

func (f *FileLock) DoWithLock(key string, fn func() (interface{}, error)) (interface{}, error) {
	// Keys can contain characters that aren't filename-safe, so lock files
	// are named by digest.
	sum := sha256.Sum256([]byte(key))
	lockPath := filepath.Join(f.dir, hex.EncodeToString(sum[:8])+".lock")

	lock := flock.New(lockPath)
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %q: %w", key, err)
	}
	defer lock.Unlock()

	return fn()
}
