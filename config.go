package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration. CI runners pass inputs as environment
// variables, so that's the only configuration surface.
type Config struct {
	// Paths are the newline-separated paths to cache, relative to the
	// working directory.
	Paths []string `env:"CACHE_PATHS" envSeparator:"\n"`

	// Key is the primary cache key.
	Key string `env:"CACHE_KEY"`

	// RestoreKeys are newline-separated fallback keys, most preferred
	// first.
	RestoreKeys []string `env:"CACHE_RESTORE_KEYS" envSeparator:"\n"`

	// CrossOSArchive packs a platform-neutral archive restorable on other
	// operating systems.
	CrossOSArchive bool `env:"CACHE_CROSS_OS_ARCHIVE"`

	// LookupOnly makes restore report whether a match exists without
	// downloading or unpacking it. The lookup subcommand implies it.
	LookupOnly bool `env:"CACHE_LOOKUP_ONLY"`

	// UploadChunkSize is the multipart upload chunk size in bytes.
	UploadChunkSize int64 `env:"CACHE_UPLOAD_CHUNK_SIZE" envDefault:"33554432"`

	// Backend selects the storage backend: "s3" or "disk".
	Backend string `env:"CACHE_BACKEND" envDefault:"s3"`

	// S3Bucket is the bucket used by the s3 backend.
	S3Bucket string `env:"CACHE_S3_BUCKET"`

	// S3Prefix namespaces this cache's objects within the bucket.
	S3Prefix string `env:"CACHE_S3_PREFIX" envDefault:"artifactcache"`

	// Dir is the cache directory used by the disk backend.
	Dir string `env:"CACHE_DIR"`

	// StateFile, when set, persists the restore outcome so a later save
	// invocation in the same job can skip redundant uploads.
	StateFile string `env:"CACHE_STATE_FILE"`

	// Debug enables debug logging and per-operation backend tracing.
	Debug bool `env:"CACHE_DEBUG"`
}

// loadConfig parses the environment and checks the fields every subcommand
// needs. Key/path constraints (length, commas, counts) are enforced by the
// orchestrator, not here.
func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.Key == "" {
		return Config{}, fmt.Errorf("CACHE_KEY must be set")
	}
	switch cfg.Backend {
	case "s3":
		if cfg.S3Bucket == "" {
			return Config{}, fmt.Errorf("CACHE_S3_BUCKET must be set for the s3 backend")
		}
	case "disk":
		if cfg.Dir == "" {
			return Config{}, fmt.Errorf("CACHE_DIR must be set for the disk backend")
		}
	default:
		return Config{}, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}

	return cfg, nil
}
