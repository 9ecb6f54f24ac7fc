package backends

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/richardartoul/artifactcache/pkg/locking"
)

// fileFormatVersion is prefixed to metadata files so the on-disk layout can
// evolve without misreading entries written by older binaries.
const fileFormatVersion = "v1"

// Disk is a Backend that stores archives on a local (possibly shared)
// filesystem. Entries live under dir/<version>/, one data file plus a
// sidecar metadata file per key, written atomically via temp file + rename.
type Disk struct {
	dir    string // Absolute path to the cache directory
	locks  locking.Group
	logger *slog.Logger
}

// diskMetadata holds the sidecar metadata for a stored entry.
type diskMetadata struct {
	Key     string
	Size    int64
	PutTime time.Time
}

// NewDisk creates a disk backend rooted at dir. locks provides mutual
// exclusion for uploads; use a flock-backed group when the directory is
// shared between processes.
func NewDisk(dir string, locks locking.Group, logger *slog.Logger) (*Disk, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	// Convert to absolute path once at initialization so entry locations
	// stay valid if the caller changes directories mid-job.
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	return &Disk{
		dir:    absDir,
		locks:  locks,
		logger: logger,
	}, nil
}

// Lookup checks each key in preference order: an exact match wins outright,
// otherwise the newest stored entry whose key has the candidate as a prefix.
func (d *Disk) Lookup(ctx context.Context, keys []string, version string) (*Entry, error) {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		meta := d.readEntry(key, version)
		if meta != nil {
			return d.entryFor(meta, version), nil
		}

		meta, err := d.scanPrefix(key, version)
		if err != nil {
			return nil, err
		}
		if meta != nil {
			return d.entryFor(meta, version), nil
		}
	}
	return nil, nil
}

// Download copies a stored archive to destPath.
func (d *Disk) Download(ctx context.Context, entry *Entry, destPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(entry.Location)
	if err != nil {
		return fmt.Errorf("failed to open cache entry: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	_, err = io.Copy(dst, src)
	closeErr := dst.Close()
	if err != nil {
		return fmt.Errorf("failed to copy cache entry: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close destination file: %w", closeErr)
	}

	return nil
}

// Upload stores the archive at srcPath under key. The metadata file is the
// commit marker: an entry whose metadata exists is reserved, and a second
// writer observes a *ReserveCacheError instead of overwriting it.
func (d *Disk) Upload(ctx context.Context, srcPath, key, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := d.locks.DoWithLock(version+"/"+key, func() (interface{}, error) {
		if d.readEntry(key, version) != nil {
			return nil, &ReserveCacheError{Key: key, Version: version}
		}

		info, err := os.Stat(srcPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat archive: %w", err)
		}

		if err := d.write(key, version, srcPath); err != nil {
			return nil, err
		}

		meta := diskMetadata{Key: key, Size: info.Size(), PutTime: time.Now()}
		if err := d.writeMetadata(key, version, meta); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// Close performs any cleanup operations needed by the backend.
func (d *Disk) Close() error {
	return nil
}

// MaxArchiveSize implements SizeLimiter. A local filesystem has no hosted
// archive ceiling, so size enforcement is left to disk capacity.
func (d *Disk) MaxArchiveSize() int64 {
	return math.MaxInt64
}

// write atomically copies the archive into place.
func (d *Disk) write(key, version, srcPath string) error {
	dataPath := d.dataPath(key, version)
	if err := os.MkdirAll(filepath.Dir(dataPath), 0755); err != nil {
		return fmt.Errorf("failed to create version directory: %w", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer src.Close()

	// Write to a temp file first, then atomically rename. This prevents
	// partial data files from ever being observable by a concurrent Lookup.
	tmpPath := dataPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpPath) // Clean up if something goes wrong

	_, err = io.Copy(tmpFile, src)
	closeErr := tmpFile.Close()
	if err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, dataPath); err != nil {
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

// writeMetadata writes the sidecar metadata for an entry.
func (d *Disk) writeMetadata(key, version string, meta diskMetadata) error {
	metaPath := d.metadataPath(key, version)

	// Format: key:escaped\nsize:num\ntime:unix\n
	content := fmt.Sprintf("key:%s\nsize:%d\ntime:%d\n",
		url.QueryEscape(meta.Key),
		meta.Size,
		meta.PutTime.Unix())

	tmpPath := metaPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write temp metadata: %w", err)
	}
	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename metadata: %w", err)
	}
	return nil
}

// readEntry reads metadata for an exact key, or nil if it isn't stored.
// Corrupted metadata is logged and treated as a miss.
func (d *Disk) readEntry(key, version string) *diskMetadata {
	meta, err := d.readMetadataFile(d.metadataPath(key, version))
	if err != nil {
		if !os.IsNotExist(err) {
			d.logger.Warn("failed to read cache entry metadata",
				"key", key,
				"error", err)
		}
		return nil
	}
	return meta
}

// readMetadataFile parses a sidecar metadata file.
func (d *Disk) readMetadataFile(metaPath string) (*diskMetadata, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var escapedKey string
	var size int64
	var putTimeUnix int64

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "key:") {
			fmt.Sscanf(line, "key:%s", &escapedKey)
		} else if strings.HasPrefix(line, "size:") {
			fmt.Sscanf(line, "size:%d", &size)
		} else if strings.HasPrefix(line, "time:") {
			fmt.Sscanf(line, "time:%d", &putTimeUnix)
		}
	}

	if escapedKey == "" {
		return nil, fmt.Errorf("metadata missing key field")
	}
	key, err := url.QueryUnescape(escapedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to unescape key: %w", err)
	}

	return &diskMetadata{
		Key:     key,
		Size:    size,
		PutTime: time.Unix(putTimeUnix, 0),
	}, nil
}

// scanPrefix scans the version directory for the newest entry whose key has
// the candidate as a prefix.
func (d *Disk) scanPrefix(key, version string) (*diskMetadata, error) {
	entries, err := os.ReadDir(d.versionDir(version))
	if err != nil {
		if os.IsNotExist(err) {
			// Nothing saved under this version yet.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan version directory: %w", err)
	}

	var best *diskMetadata
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".meta") {
			continue
		}
		meta, err := d.readMetadataFile(filepath.Join(d.versionDir(version), e.Name()))
		if err != nil {
			d.logger.Warn("skipping corrupted cache entry metadata",
				"file", e.Name(),
				"error", err)
			continue
		}
		if !strings.HasPrefix(meta.Key, key) {
			continue
		}
		if best == nil || meta.PutTime.After(best.PutTime) {
			best = meta
		}
	}
	return best, nil
}

func (d *Disk) entryFor(meta *diskMetadata, version string) *Entry {
	return &Entry{
		Key:      meta.Key,
		Version:  version,
		Size:     meta.Size,
		Location: d.dataPath(meta.Key, version),
	}
}

func (d *Disk) versionDir(version string) string {
	return filepath.Join(d.dir, version)
}

// dataPath returns the data file path for a key. Keys are digested because
// they can exceed filename limits and contain path separators.
func (d *Disk) dataPath(key, version string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(d.versionDir(version), fileFormatVersion+hex.EncodeToString(sum[:]))
}

// metadataPath returns the sidecar metadata path for a key.
func (d *Disk) metadataPath(key, version string) string {
	return d.dataPath(key, version) + ".meta"
}
