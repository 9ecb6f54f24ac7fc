package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/richardartoul/artifactcache/pkg/archive"
)

// Version derives the matching token that namespaces cache entries. Two
// archives are only considered compatible when they were packed from the
// same declared path list, with the same compression method, under the same
// cross-OS setting — otherwise an unpack could scribble unrelated content
// over the working tree.
func Version(paths []string, method archive.Method, crossOSArchive bool) string {
	h := sha256.New()
	for _, p := range paths {
		io.WriteString(h, p)
		h.Write([]byte{0})
	}
	io.WriteString(h, string(method))
	if crossOSArchive {
		io.WriteString(h, "|cross-os")
	}
	return hex.EncodeToString(h.Sum(nil))
}
