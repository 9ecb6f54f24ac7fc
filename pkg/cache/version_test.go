package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/richardartoul/artifactcache/pkg/archive"
)

func TestVersionSeparatesIncompatibleArchives(t *testing.T) {
	base := Version([]string{"build", "dist"}, archive.MethodLz4, false)

	// Stable for identical inputs so restore finds what save stored.
	assert.Equal(t, base, Version([]string{"build", "dist"}, archive.MethodLz4, false))

	// Any change to path list, compression, or cross-OS semantics moves
	// entries into a different namespace.
	assert.NotEqual(t, base, Version([]string{"build"}, archive.MethodLz4, false))
	assert.NotEqual(t, base, Version([]string{"dist", "build"}, archive.MethodLz4, false))
	assert.NotEqual(t, base, Version([]string{"build", "dist"}, archive.MethodGzip, false))
	assert.NotEqual(t, base, Version([]string{"build", "dist"}, archive.MethodLz4, true))

	// Path boundaries matter: ["ab"] and ["a","b"] are different lists.
	assert.NotEqual(t, Version([]string{"ab"}, archive.MethodLz4, false),
		Version([]string{"a", "b"}, archive.MethodLz4, false))
}
