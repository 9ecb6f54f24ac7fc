package backends

import (
	"context"
	"log/slog"
	"time"
)

// Debug wraps any Backend and adds per-operation logging. This allows any
// backend implementation to have debug logging without coupling the debug
// logic to the backend implementation.
type Debug struct {
	backend Backend
	logger  *slog.Logger
}

// NewDebug creates a new debug wrapper around an existing backend.
func NewDebug(backend Backend, logger *slog.Logger) *Debug {
	return &Debug{
		backend: backend,
		logger:  logger,
	}
}

// Lookup queries the wrapped backend with debug logging.
func (d *Debug) Lookup(ctx context.Context, keys []string, version string) (*Entry, error) {
	d.logger.Debug("lookup", "keys", keys, "version", version)

	start := time.Now()
	entry, err := d.backend.Lookup(ctx, keys, version)

	if err != nil {
		d.logger.Debug("lookup failed", "error", err, "duration", time.Since(start))
		return entry, err
	}
	if entry == nil {
		d.logger.Debug("lookup miss", "duration", time.Since(start))
	} else {
		d.logger.Debug("lookup hit",
			"matchedKey", entry.Key,
			"size", entry.Size,
			"duration", time.Since(start))
	}
	return entry, nil
}

// Download fetches from the wrapped backend with debug logging.
func (d *Debug) Download(ctx context.Context, entry *Entry, destPath string) error {
	d.logger.Debug("download", "key", entry.Key, "location", entry.Location, "dest", destPath)

	start := time.Now()
	err := d.backend.Download(ctx, entry, destPath)

	if err != nil {
		d.logger.Debug("download failed", "error", err, "duration", time.Since(start))
		return err
	}
	d.logger.Debug("download complete", "duration", time.Since(start))
	return nil
}

// Upload stores through the wrapped backend with debug logging.
func (d *Debug) Upload(ctx context.Context, srcPath, key, version string) error {
	d.logger.Debug("upload", "key", key, "version", version, "src", srcPath)

	start := time.Now()
	err := d.backend.Upload(ctx, srcPath, key, version)

	if err != nil {
		d.logger.Debug("upload failed", "error", err, "duration", time.Since(start))
		return err
	}
	d.logger.Debug("upload complete", "duration", time.Since(start))
	return nil
}

// Close closes the wrapped backend with debug logging.
func (d *Debug) Close() error {
	d.logger.Debug("closing backend")
	return d.backend.Close()
}

// MaxArchiveSize passes through the wrapped backend's size limit, if it
// declares one.
func (d *Debug) MaxArchiveSize() int64 {
	if limiter, ok := d.backend.(SizeLimiter); ok {
		return limiter.MaxArchiveSize()
	}
	return 0
}
