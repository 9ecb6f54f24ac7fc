// Package cache orchestrates restoring and saving key-addressed CI artifact
// archives against a pluggable storage backend. It is deliberately fail-soft:
// outside of input validation and two save pre-flight checks, a caching
// problem degrades to a miss (restore) or a no-op (save) instead of failing
// the invoking build.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/richardartoul/artifactcache/pkg/archive"
	"github.com/richardartoul/artifactcache/pkg/backends"
	"github.com/richardartoul/artifactcache/pkg/metrics"
)

// DefaultMaxArchiveSize is the client-side archive size ceiling (10 GiB).
// Backends that implement backends.SizeLimiter can declare a larger limit.
// The check exists purely to save bandwidth before a doomed upload; the
// authoritative limit is backend-side.
const DefaultMaxArchiveSize = int64(10) * 1024 * 1024 * 1024

// Options configures an Orchestrator. The zero value works: state defaults
// to a fresh JobState, the logger to slog.Default, the working directory to
// the process working directory, and metrics are disabled.
type Options struct {
	// State bridges the restore outcome to the save phase of the same job
	// run. Pass the same instance to both phases.
	State *JobState

	// Logger receives progress, size, and degradation messages.
	Logger *slog.Logger

	// Tracker, when set, records per-phase latency quantiles.
	Tracker *metrics.LatencyTracker

	// WorkDir is the tree paths are packed from and unpacked over.
	WorkDir string
}

// Orchestrator implements the restore and save workflows over a storage
// backend and an archive codec. A single invocation is sequential; it is safe
// to run invocations concurrently across processes because a lost save race
// resolves as a benign "not saved".
type Orchestrator struct {
	backend backends.Backend
	codec   archive.Codec
	state   *JobState
	logger  *slog.Logger
	tracker *metrics.LatencyTracker
	workDir string
}

// New creates an orchestrator over the given backend and codec.
func New(backend backends.Backend, codec archive.Codec, opts Options) *Orchestrator {
	state := opts.State
	if state == nil {
		state = NewJobState()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = "."
	}
	return &Orchestrator{
		backend: backend,
		codec:   codec,
		state:   state,
		logger:  logger,
		tracker: opts.Tracker,
		workDir: workDir,
	}
}

// RestoreOptions are the inputs to a restore invocation.
type RestoreOptions struct {
	// Paths is the ordered list of paths the archive was packed from.
	Paths []string

	// Key is the primary key, the most specific identifier for the exact
	// content being cached.
	Key string

	// RestoreKeys are fallback keys, checked in order, used to find the
	// closest prior cache when no exact primary-key match exists.
	RestoreKeys []string

	// LookupOnly reports whether a match exists without downloading or
	// unpacking it.
	LookupOnly bool

	// CrossOSArchive requests a platform-neutral archive that can be
	// restored on a different operating system.
	CrossOSArchive bool
}

// Restore finds the best matching entry for the key set and unpacks it over
// the working tree.
//
// The returned error is non-nil only for *ValidationError. Every other
// failure is logged as a warning and reported as a RestoreFailed outcome so
// the invoking build keeps going.
func (o *Orchestrator) Restore(ctx context.Context, opts RestoreOptions) (RestoreResult, error) {
	if err := validatePaths(opts.Paths); err != nil {
		return RestoreResult{Outcome: RestoreFailed}, err
	}
	if err := validateKeys(opts.Key, opts.RestoreKeys); err != nil {
		return RestoreResult{Outcome: RestoreFailed}, err
	}

	o.state.SetPrimaryKey(opts.Key)

	result, err := o.restore(ctx, opts)
	if err != nil {
		o.logger.Warn("failed to restore cache",
			"key", opts.Key,
			"error", err)
		return RestoreResult{Outcome: RestoreFailed}, nil
	}
	return result, nil
}

func (o *Orchestrator) restore(ctx context.Context, opts RestoreOptions) (RestoreResult, error) {
	method := archive.Negotiate(opts.CrossOSArchive)
	version := Version(opts.Paths, method, opts.CrossOSArchive)
	keys := append([]string{opts.Key}, opts.RestoreKeys...)

	var entry *backends.Entry
	if err := o.record(metrics.OpLookup, func() (err error) {
		entry, err = o.backend.Lookup(ctx, keys, version)
		return err
	}); err != nil {
		return RestoreResult{}, fmt.Errorf("failed to look up cache entry: %w", err)
	}
	if entry == nil {
		o.logger.Info("cache miss",
			"key", opts.Key,
			"restoreKeys", opts.RestoreKeys)
		return RestoreResult{Outcome: RestoreMiss}, nil
	}

	o.state.SetMatchedKey(entry.Key)

	if opts.LookupOnly {
		o.logger.Info("cache hit, skipping download (lookup only)", "matchedKey", entry.Key)
		return RestoreResult{Outcome: RestoreHit, MatchedKey: entry.Key}, nil
	}

	tmpDir, err := os.MkdirTemp("", "artifactcache-")
	if err != nil {
		return RestoreResult{}, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer o.cleanup(tmpDir)
	archivePath := filepath.Join(tmpDir, archive.Name(method))

	if err := o.record(metrics.OpDownload, func() error {
		return o.backend.Download(ctx, entry, archivePath)
	}); err != nil {
		return RestoreResult{}, fmt.Errorf("failed to download cache entry: %w", err)
	}

	if o.logger.Enabled(ctx, slog.LevelDebug) {
		if names, err := o.codec.List(ctx, archivePath, method); err == nil {
			o.logger.Debug("archive contents", "entries", len(names), "names", names)
		}
	}
	if info, err := os.Stat(archivePath); err == nil {
		o.logger.Info("cache archive downloaded",
			"matchedKey", entry.Key,
			"sizeBytes", info.Size())
	}

	if err := o.record(metrics.OpUnpack, func() error {
		return o.codec.Unpack(ctx, archivePath, o.workDir, method)
	}); err != nil {
		return RestoreResult{}, fmt.Errorf("failed to unpack archive: %w", err)
	}

	o.logger.Info("cache restored", "matchedKey", entry.Key)
	return RestoreResult{Outcome: RestoreHit, MatchedKey: entry.Key}, nil
}

// SaveOptions are the inputs to a save invocation.
type SaveOptions struct {
	// Paths is the ordered list of paths to pack into the archive.
	Paths []string

	// Key is the primary key to store the archive under. A primary key
	// carried over from a restore in the same job takes precedence.
	Key string

	// CrossOSArchive requests a platform-neutral archive.
	CrossOSArchive bool
}

// Save packs the paths into an archive and uploads it under the primary key.
//
// The returned error is non-nil only for *ValidationError and the two
// pre-flight hard stops, ErrNothingToCache and ErrArchiveTooLarge. Losing an
// upload race resolves as a SaveLost outcome; any other failure is logged as
// a warning and reported as SaveFailed. Saved() on the result is true exactly
// when a new archive was uploaded by this call.
func (o *Orchestrator) Save(ctx context.Context, opts SaveOptions) (SaveResult, error) {
	// Prefer the key the restore phase recorded; fall back to our own
	// input for save-only invocations.
	key := opts.Key
	if restoreKey, ok := o.state.PrimaryKey(); ok {
		key = restoreKey
	}

	// Validation comes first, even when the no-op check below would skip
	// all the work anyway: bad input is a usage bug and must fail loudly.
	if err := validatePaths(opts.Paths); err != nil {
		return SaveResult{Outcome: SaveFailed}, err
	}
	if err := validateKey(key); err != nil {
		return SaveResult{Outcome: SaveFailed}, err
	}

	if matchedKey, ok := o.state.MatchedKey(); ok && matchedKey == key {
		o.logger.Info("cache hit occurred on the primary key, not saving", "key", key)
		return SaveResult{Outcome: SaveSkipped}, nil
	}

	if err := o.save(ctx, key, opts); err != nil {
		if errors.Is(err, ErrNothingToCache) || errors.Is(err, ErrArchiveTooLarge) {
			return SaveResult{Outcome: SaveFailed}, err
		}
		var reserveErr *backends.ReserveCacheError
		if errors.As(err, &reserveErr) {
			o.logger.Info("cache entry already exists, not saving",
				"key", key,
				"error", err)
			return SaveResult{Outcome: SaveLost}, nil
		}
		o.logger.Warn("failed to save cache",
			"key", key,
			"error", err)
		return SaveResult{Outcome: SaveFailed}, nil
	}

	o.logger.Info("cache saved", "key", key)
	return SaveResult{Outcome: SaveUploaded}, nil
}

func (o *Orchestrator) save(ctx context.Context, key string, opts SaveOptions) error {
	resolved, err := resolvePaths(o.workDir, opts.Paths)
	if err != nil {
		return err
	}
	if len(resolved) == 0 {
		return ErrNothingToCache
	}

	method := archive.Negotiate(opts.CrossOSArchive)
	version := Version(opts.Paths, method, opts.CrossOSArchive)

	tmpDir, err := os.MkdirTemp("", "artifactcache-")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer o.cleanup(tmpDir)
	archivePath := filepath.Join(tmpDir, archive.Name(method))

	if err := o.record(metrics.OpPack, func() error {
		return o.codec.Pack(ctx, o.workDir, resolved, archivePath, method)
	}); err != nil {
		return fmt.Errorf("failed to pack archive: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}
	if limit := o.maxArchiveSize(); info.Size() > limit {
		return fmt.Errorf("archive size %d bytes is over the %d byte limit: %w",
			info.Size(), limit, ErrArchiveTooLarge)
	}
	o.logger.Info("archive packed",
		"key", key,
		"paths", resolved,
		"sizeBytes", info.Size())

	if err := o.record(metrics.OpUpload, func() error {
		return o.backend.Upload(ctx, archivePath, key, version)
	}); err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	return nil
}

// maxArchiveSize returns the effective size ceiling: the default, unless the
// backend declares a larger one.
func (o *Orchestrator) maxArchiveSize() int64 {
	limit := DefaultMaxArchiveSize
	if limiter, ok := o.backend.(backends.SizeLimiter); ok {
		if declared := limiter.MaxArchiveSize(); declared > limit {
			limit = declared
		}
	}
	return limit
}

// cleanup deletes the temporary archive directory. Best-effort: a deletion
// failure never escalates past a debug log, regardless of the primary
// outcome.
func (o *Orchestrator) cleanup(tmpDir string) {
	if err := os.RemoveAll(tmpDir); err != nil {
		o.logger.Debug("failed to delete temporary archive directory",
			"dir", tmpDir,
			"error", err)
	}
}

// record runs fn under the latency tracker when one is configured.
func (o *Orchestrator) record(operation string, fn func() error) error {
	if o.tracker == nil {
		return fn()
	}
	return o.tracker.RecordFunc(operation, fn)
}

// resolvePaths expands the declared paths against the working tree and keeps
// only the ones that exist. Paths are treated as globs; a literal path is a
// glob that matches itself. Results are workDir-relative so archives stay
// position independent.
func resolvePaths(workDir string, patterns []string) ([]string, error) {
	var resolved []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(workDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %q: %w", pattern, err)
		}
		for _, match := range matches {
			rel, err := filepath.Rel(workDir, match)
			if err != nil {
				return nil, fmt.Errorf("failed to relativize path %q: %w", match, err)
			}
			resolved = append(resolved, rel)
		}
	}
	return resolved, nil
}
