package cache

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardartoul/artifactcache/pkg/archive"
	"github.com/richardartoul/artifactcache/pkg/backends"
	"github.com/richardartoul/artifactcache/pkg/locking"
)

// TestSaveRestoreRoundTrip drives both workflows against the real disk
// backend and tar codec: one job saves a working tree, a second job restores
// it byte for byte, and the state bridge suppresses the redundant re-save.
func TestSaveRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	backend, err := backends.NewDisk(t.TempDir(), locking.NewMemLock(), logger)
	require.NoError(t, err)
	codec := archive.NewTarCodec()

	// Job 1: build something and save it.
	saveDir := t.TempDir()
	writeWorkFile(t, saveDir, "build/bin/app", "binary bits")
	writeWorkFile(t, saveDir, "build/report.txt", "all tests passed")

	saver := New(backend, codec, Options{Logger: logger, WorkDir: saveDir})
	saveResult, err := saver.Save(ctx, SaveOptions{
		Paths: []string{"build"},
		Key:   "linux-build-1",
	})
	require.NoError(t, err)
	require.Equal(t, SaveUploaded, saveResult.Outcome)

	// Saving the same key again from another job loses the reservation
	// and resolves as "not saved", never as an error.
	secondSave, err := New(backend, codec, Options{Logger: logger, WorkDir: saveDir}).Save(ctx, SaveOptions{
		Paths: []string{"build"},
		Key:   "linux-build-1",
	})
	require.NoError(t, err)
	assert.Equal(t, SaveLost, secondSave.Outcome)
	assert.False(t, secondSave.Saved())

	// Job 2: restore into a fresh working tree.
	restoreDir := t.TempDir()
	state := NewJobState()
	restorer := New(backend, codec, Options{State: state, Logger: logger, WorkDir: restoreDir})

	restoreResult, err := restorer.Restore(ctx, RestoreOptions{
		Paths: []string{"build"},
		Key:   "linux-build-1",
	})
	require.NoError(t, err)
	require.Equal(t, RestoreHit, restoreResult.Outcome)
	assert.Equal(t, "linux-build-1", restoreResult.MatchedKey)

	for rel, want := range map[string]string{
		"build/bin/app":    "binary bits",
		"build/report.txt": "all tests passed",
	} {
		got, err := os.ReadFile(filepath.Join(restoreDir, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	// The exact-match no-op: saving after restoring the same primary key
	// does nothing.
	noopResult, err := restorer.Save(ctx, SaveOptions{
		Paths: []string{"build"},
		Key:   "linux-build-1",
	})
	require.NoError(t, err)
	assert.Equal(t, SaveSkipped, noopResult.Outcome)
}

// TestRestoreFallbackKeyThenSave exercises a fallback hit: the matched key
// differs from the primary key, so the subsequent save still uploads.
func TestRestoreFallbackKeyThenSave(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	backend, err := backends.NewDisk(t.TempDir(), locking.NewMemLock(), logger)
	require.NoError(t, err)
	codec := archive.NewTarCodec()

	seedDir := t.TempDir()
	writeWorkFile(t, seedDir, "build/out", "old artifact")
	_, err = New(backend, codec, Options{Logger: logger, WorkDir: seedDir}).Save(ctx, SaveOptions{
		Paths: []string{"build"},
		Key:   "linux-build-1",
	})
	require.NoError(t, err)

	// A new job with a new primary key falls back to the prefix key.
	jobDir := t.TempDir()
	state := NewJobState()
	orch := New(backend, codec, Options{State: state, Logger: logger, WorkDir: jobDir})

	restoreResult, err := orch.Restore(ctx, RestoreOptions{
		Paths:       []string{"build"},
		Key:         "linux-build-2",
		RestoreKeys: []string{"linux-build-"},
	})
	require.NoError(t, err)
	require.Equal(t, RestoreHit, restoreResult.Outcome)
	assert.Equal(t, "linux-build-1", restoreResult.MatchedKey)

	// Fallback hit != exact match, so save proceeds under the primary key.
	writeWorkFile(t, jobDir, "build/out", "new artifact")
	saveResult, err := orch.Save(ctx, SaveOptions{
		Paths: []string{"build"},
		Key:   "linux-build-2",
	})
	require.NoError(t, err)
	assert.Equal(t, SaveUploaded, saveResult.Outcome)
	assert.True(t, saveResult.Saved())
}
