// Package archive packs and unpacks cache archives. The codec is a thin
// contract over a single local archive file so the orchestrator never touches
// tar or compression details directly.
package archive

import (
	"context"
	"os"
	"sync"
)

// Method identifies the compression applied to an archive.
type Method string

const (
	// MethodGzip is the portable method. Archives compressed with gzip can
	// be restored on a different operating system than the one that packed
	// them, so it is forced whenever cross-OS archives are requested.
	MethodGzip = Method("gzip")

	// MethodLz4 is the default method. It trades a worse compression ratio
	// for much faster pack/unpack, which is usually the right call for CI
	// artifacts that live close to the build.
	MethodLz4 = Method("lz4")
)

// Name returns the archive filename convention for a method. One archive per
// save/restore invocation; the name is only unique within its temp directory.
func Name(method Method) string {
	if method == MethodGzip {
		return "cache.tgz"
	}
	return "cache.tlz4"
}

// defaultMethod probes the environment once per process: the
// CACHE_COMPRESSION environment variable can pin gzip, and lz4 is used when
// nothing else decides.
var defaultMethod = sync.OnceValue(func() Method {
	return methodFromEnv(os.Getenv("CACHE_COMPRESSION"))
})

func methodFromEnv(value string) Method {
	if value == string(MethodGzip) {
		return MethodGzip
	}
	return MethodLz4
}

// Negotiate picks the compression method for this environment. The choice is
// deterministic per environment, not per call: cross-OS archives always use
// gzip, and everything else shares one memoized environment probe.
func Negotiate(crossOSArchive bool) Method {
	if crossOSArchive {
		return MethodGzip
	}
	return defaultMethod()
}

// Codec produces and consumes a single compressed archive file from/to a
// directory tree.
//
// Implementations don't need to be thread-safe: the orchestrator runs at most
// one pack or unpack per invocation and never shares an archive file across
// invocations.
type Codec interface {
	// Pack writes the given paths (relative to srcDir) into a new archive
	// file at archivePath.
	Pack(ctx context.Context, srcDir string, paths []string, archivePath string, method Method) error

	// Unpack extracts an archive over destDir, creating directories as
	// needed and overwriting existing files.
	Unpack(ctx context.Context, archivePath, destDir string, method Method) error

	// List returns the entry names contained in an archive. Diagnostic
	// only; the orchestrator calls it when debug logging is enabled.
	List(ctx context.Context, archivePath string, method Method) ([]string, error)
}
