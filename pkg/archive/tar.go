package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// TarCodec is the default Codec. It writes plain tar streams wrapped in the
// negotiated compression (gzip or lz4).
type TarCodec struct{}

// NewTarCodec creates a new tar codec.
func NewTarCodec() *TarCodec {
	return &TarCodec{}
}

// Pack writes the given paths into a new compressed tar archive.
// Entry names are stored relative to srcDir so the archive is position
// independent and can be unpacked over any working tree.
func (c *TarCodec) Pack(ctx context.Context, srcDir string, paths []string, archivePath string, method Method) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer f.Close()

	cw, err := compressWriter(f, method)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(cw)
	for _, p := range paths {
		if err := c.packPath(ctx, tw, srcDir, p); err != nil {
			// The archive is abandoned; flush errors can't matter.
			tw.Close()
			cw.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize tar stream: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("failed to finalize compressed stream: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close archive file: %w", err)
	}

	return nil
}

// packPath walks a single requested path and writes every entry under it.
func (c *TarCodec) packPath(ctx context.Context, tw *tar.Writer, srcDir, p string) error {
	root := filepath.Join(srcDir, p)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", path, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return fmt.Errorf("failed to read symlink %s: %w", path, err)
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("failed to build tar header for %s: %w", path, err)
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return fmt.Errorf("failed to relativize %s: %w", path, err)
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		_, err = io.Copy(tw, src)
		src.Close()
		if err != nil {
			return fmt.Errorf("failed to archive %s: %w", path, err)
		}
		return nil
	})
}

// Unpack extracts a compressed tar archive over destDir.
func (c *TarCodec) Unpack(ctx context.Context, archivePath, destDir string, method Method) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	defer f.Close()

	cr, err := compressReader(f, method)
	if err != nil {
		return err
	}

	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar stream: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		// Entries were written relative to the pack root, so anything
		// absolute or escaping destDir is a corrupt/hostile archive.
		name := filepath.FromSlash(hdr.Name)
		if !filepath.IsLocal(name) {
			return fmt.Errorf("archive entry %q escapes the destination directory", hdr.Name)
		}
		target := filepath.Join(destDir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}

		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create directory for %s: %w", target, err)
			}
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to replace symlink %s: %w", target, err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("failed to create symlink %s: %w", target, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create directory for %s: %w", target, err)
			}
			dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}
			_, err = io.Copy(dst, tr)
			closeErr := dst.Close()
			if err != nil {
				return fmt.Errorf("failed to extract %s: %w", target, err)
			}
			if closeErr != nil {
				return fmt.Errorf("failed to close %s: %w", target, closeErr)
			}

		default:
			// Device nodes, fifos etc. never show up in CI artifacts.
			// Skip rather than fail so one odd entry doesn't waste the
			// whole restore.
		}
	}
}

// List returns the entry names in the archive without extracting anything.
func (c *TarCodec) List(ctx context.Context, archivePath string, method Method) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}
	defer f.Close()

	cr, err := compressReader(f, method)
	if err != nil {
		return nil, err
	}

	var names []string
	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar stream: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		names = append(names, hdr.Name)
	}
}

func compressWriter(w io.Writer, method Method) (io.WriteCloser, error) {
	switch method {
	case MethodGzip:
		return gzip.NewWriter(w), nil
	case MethodLz4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown compression method: %s", method)
	}
}

func compressReader(r io.Reader, method Method) (io.Reader, error) {
	switch method {
	case MethodGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return gr, nil
	case MethodLz4:
		return lz4.NewReader(r), nil
	default:
		return nil, fmt.Errorf("unknown compression method: %s", method)
	}
}
