// Package packaging reads and writes NAH packages: tar archives of an app
// or NAK tree, compressed with gzip (canonical), xz, zstd, lzip, or bzip2.
// Packing is deterministic — sorted entries, zeroed timestamps and
// ownership — so the same tree always produces the same bytes. Extraction
// refuses entries that would land outside the destination.
package packaging

import (
	"archive/tar"
	"compress/bzip2"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	lzip "github.com/sorairolake/lzip-go"
	"github.com/ulikunitz/xz"
)

// maxFileSize caps a single extracted file (1 GiB); a runaway entry in a
// hostile archive fails instead of filling the disk.
const maxFileSize = 1 << 30

// pathWithin reports whether target stays inside base once both are made
// absolute. The trailing-separator check keeps /tmp/foo from matching
// /tmp/foobar.
func pathWithin(target, base string) bool {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	return absTarget == absBase || strings.HasPrefix(absTarget, absBase+string(os.PathSeparator))
}

// validateSymlink rejects absolute symlink targets and targets that
// resolve outside the destination tree.
func validateSymlink(linkTarget, linkLocation, dest string) error {
	if filepath.IsAbs(linkTarget) {
		return fmt.Errorf("symlink %s has absolute target %s", linkLocation, linkTarget)
	}
	resolved := filepath.Join(filepath.Dir(linkLocation), linkTarget)
	if !pathWithin(resolved, dest) {
		return fmt.Errorf("symlink %s escapes destination (target %s)", linkLocation, linkTarget)
	}
	return nil
}

// decompressor wraps the archive stream according to the file name.
func decompressor(path string, r io.Reader) (io.Reader, func() error, error) {
	name := strings.ToLower(path)
	noop := func() error { return nil }

	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"),
		strings.HasSuffix(name, ".nah.tgz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return gz, gz.Close, nil
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening xz stream: %w", err)
		}
		return xr, noop, nil
	case strings.HasSuffix(name, ".tar.zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return zr.IOReadCloser(), func() error { zr.Close(); return nil }, nil
	case strings.HasSuffix(name, ".tar.lz"):
		lr, err := lzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening lzip stream: %w", err)
		}
		return lr, noop, nil
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return bzip2.NewReader(r), noop, nil
	case strings.HasSuffix(name, ".tar"):
		return r, noop, nil
	}
	return nil, nil, fmt.Errorf("unsupported package format: %s", filepath.Base(path))
}

// Unpack extracts a package archive into destDir.
func Unpack(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening package: %w", err)
	}
	defer f.Close()

	stream, closeStream, err := decompressor(archivePath, f)
	if err != nil {
		return err
	}
	defer func() { _ = closeStream() }()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	tr := tar.NewReader(stream)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading package: %w", err)
		}

		name := filepath.Clean(hdr.Name)
		if name == "." || name == "" {
			continue
		}
		target := filepath.Join(destDir, name)
		if !pathWithin(target, destDir) {
			return fmt.Errorf("package entry %q escapes destination", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if hdr.Size > maxFileSize {
				return fmt.Errorf("package entry %q exceeds size limit", hdr.Name)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			mode := fs.FileMode(hdr.Mode) & 0o777
			if mode == 0 {
				mode = 0o644
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
			if err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
			if _, err := io.CopyN(out, tr, hdr.Size); err != nil && err != io.EOF {
				out.Close()
				return fmt.Errorf("writing %s: %w", target, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", target, err)
			}
		case tar.TypeSymlink:
			if err := validateSymlink(hdr.Linkname, target, destDir); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", target, err)
			}
		default:
			// Device nodes, FIFOs and the like have no place in a package.
			continue
		}
	}
}

// Pack writes srcDir as a deterministic tar.gz package. Entries are
// sorted by path; timestamps, ownership and group bits are zeroed; file
// modes reduce to 0755 (any execute bit) or 0644.
func Pack(srcDir, outPath string) error {
	var paths []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", srcDir, err)
	}
	sort.Strings(paths)

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating package: %w", err)
	}
	defer out.Close()

	gz, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("opening gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	for _, path := range paths {
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := os.Lstat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		switch {
		case info.IsDir():
			hdr := &tar.Header{
				Typeflag: tar.TypeDir,
				Name:     rel + "/",
				Mode:     0o755,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
			hdr := &tar.Header{
				Typeflag: tar.TypeSymlink,
				Name:     rel,
				Linkname: link,
				Mode:     0o777,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			mode := int64(0o644)
			if info.Mode()&0o111 != 0 {
				mode = 0o755
			}
			hdr := &tar.Header{
				Typeflag: tar.TypeReg,
				Name:     rel,
				Mode:     mode,
				Size:     info.Size(),
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			if _, err := io.Copy(tw, f); err != nil {
				f.Close()
				return fmt.Errorf("packing %s: %w", path, err)
			}
			f.Close()
		default:
			return fmt.Errorf("cannot pack special file %s", path)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finishing tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finishing gzip stream: %w", err)
	}
	return out.Close()
}

// HashFile returns the package hash recorded in provenance:
// "sha256:<hex>".
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
