// Command artifactcache restores and saves key-addressed CI artifact
// archives. It is invoked once per phase: `artifactcache restore` at the
// start of a job, `artifactcache save` at the end, with all inputs passed as
// CACHE_* environment variables.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/richardartoul/artifactcache/pkg/archive"
	"github.com/richardartoul/artifactcache/pkg/backends"
	"github.com/richardartoul/artifactcache/pkg/cache"
	"github.com/richardartoul/artifactcache/pkg/locking"
	"github.com/richardartoul/artifactcache/pkg/metrics"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "artifactcache: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: artifactcache <restore|save|lookup>")
	}
	command := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()

	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("failed to close backend", "error", err)
		}
	}()

	state := cache.NewJobState()
	if command == "save" && cfg.StateFile != "" {
		if err := readStateFile(cfg.StateFile, state); err != nil {
			// A bad state file shouldn't block the save; the save
			// just can't skip redundant uploads anymore.
			logger.Warn("failed to read job state", "file", cfg.StateFile, "error", err)
		}
	}

	tracker := metrics.NewLatencyTracker(0.01)
	orchestrator := cache.New(backend, archive.NewTarCodec(), cache.Options{
		State:   state,
		Logger:  logger,
		Tracker: tracker,
	})

	switch command {
	case "restore", "lookup":
		result, err := orchestrator.Restore(ctx, cache.RestoreOptions{
			Paths:          cfg.Paths,
			Key:            cfg.Key,
			RestoreKeys:    cfg.RestoreKeys,
			LookupOnly:     cfg.LookupOnly || command == "lookup",
			CrossOSArchive: cfg.CrossOSArchive,
		})
		if err != nil {
			return err
		}
		if cfg.StateFile != "" {
			if err := writeStateFile(cfg.StateFile, state); err != nil {
				logger.Warn("failed to write job state", "file", cfg.StateFile, "error", err)
			}
		}
		if result.Hit() {
			fmt.Println(result.MatchedKey)
		}

	case "save":
		result, err := orchestrator.Save(ctx, cache.SaveOptions{
			Paths:          cfg.Paths,
			Key:            cfg.Key,
			CrossOSArchive: cfg.CrossOSArchive,
		})
		if err != nil {
			return err
		}
		fmt.Println(result.Outcome)

	default:
		return fmt.Errorf("unknown command %q, expected restore, save, or lookup", command)
	}

	if cfg.Debug {
		for _, stats := range tracker.GetAllStats() {
			fmt.Fprintln(os.Stderr, stats)
		}
	}
	return nil
}

// newBackend builds the configured storage backend, wrapped with debug
// tracing when requested.
func newBackend(ctx context.Context, cfg Config, logger *slog.Logger) (backends.Backend, error) {
	var (
		backend backends.Backend
		err     error
	)
	switch cfg.Backend {
	case "s3":
		backend, err = backends.NewS3(ctx, backends.S3Config{
			Bucket:         cfg.S3Bucket,
			Prefix:         cfg.S3Prefix,
			UploadPartSize: cfg.UploadChunkSize,
		}, logger)
	case "disk":
		// Disk caches are commonly shared between jobs on one machine,
		// so uploads lock across processes.
		var locks *locking.FileLock
		locks, err = locking.NewFileLock(cfg.Dir + ".locks")
		if err == nil {
			backend, err = backends.NewDisk(cfg.Dir, locks, logger)
		}
	default:
		err = fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Debug {
		backend = backends.NewDebug(backend, logger)
	}
	return backend, nil
}
