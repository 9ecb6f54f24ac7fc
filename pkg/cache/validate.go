package cache

import (
	"fmt"
	"strings"
)

const (
	// maxKeyLength is the longest key the backends accept.
	maxKeyLength = 512

	// maxKeys caps the combined count of primary + restore keys.
	maxKeys = 10
)

// Validation is pure and synchronous, and always runs before any network or
// filesystem side effect.

func validatePaths(paths []string) error {
	if len(paths) == 0 {
		return &ValidationError{Message: "path list cannot be empty"}
	}
	return nil
}

func validateKey(key string) error {
	if len(key) > maxKeyLength {
		return &ValidationError{Message: fmt.Sprintf(
			"key %q cannot be longer than %d characters", truncateKey(key), maxKeyLength)}
	}
	if strings.Contains(key, ",") {
		return &ValidationError{Message: fmt.Sprintf(
			"key %q cannot contain commas", truncateKey(key))}
	}
	return nil
}

// validateKeys validates the full restore key set: the primary key followed
// by the restore keys, order preserved.
func validateKeys(primary string, restoreKeys []string) error {
	if len(restoreKeys)+1 > maxKeys {
		return &ValidationError{Message: fmt.Sprintf(
			"key set cannot contain more than %d keys, got %d", maxKeys, len(restoreKeys)+1)}
	}
	if err := validateKey(primary); err != nil {
		return err
	}
	for _, key := range restoreKeys {
		if err := validateKey(key); err != nil {
			return err
		}
	}
	return nil
}

// truncateKey keeps error messages readable when the offending key is huge.
func truncateKey(key string) string {
	if len(key) <= 64 {
		return key
	}
	return key[:64] + "..."
}
