package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/richardartoul/artifactcache/pkg/cache"
)

// jobStateFile is the serialized form of the restore/save bridge state. The
// restore and save phases of a CI job usually run as separate processes, so
// the runner points both at the same state file.
type jobStateFile struct {
	PrimaryKey *string `json:"primaryKey,omitempty"`
	MatchedKey *string `json:"matchedKey,omitempty"`
}

// writeStateFile persists the job state after the restore phase.
func writeStateFile(path string, state *cache.JobState) error {
	var sf jobStateFile
	if key, ok := state.PrimaryKey(); ok {
		sf.PrimaryKey = &key
	}
	if key, ok := state.MatchedKey(); ok {
		sf.MatchedKey = &key
	}

	data, err := json.Marshal(sf)
	if err != nil {
		return fmt.Errorf("failed to marshal job state: %w", err)
	}

	// Write to a temp file first, then rename (atomic operation).
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write job state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename job state: %w", err)
	}
	return nil
}

// readStateFile loads the job state before the save phase. A missing file is
// not an error: it just means restore never ran in this job.
func readStateFile(path string, state *cache.JobState) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read job state: %w", err)
	}

	var sf jobStateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("failed to unmarshal job state: %w", err)
	}
	if sf.PrimaryKey != nil {
		state.SetPrimaryKey(*sf.PrimaryKey)
	}
	if sf.MatchedKey != nil {
		state.SetMatchedKey(*sf.MatchedKey)
	}
	return nil
}
