package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Extract unpacks archivePath into dest, which must exist. The compression
// format is detected from the file name. Entries that would land outside
// dest are rejected. Any read or decode failure is reported as
// ErrExtraction; dest may then hold a partial tree and the caller is
// expected to discard it.
func Extract(ctx context.Context, archivePath, dest string) error {
	format, ok := FormatFromPath(archivePath)
	if !ok {
		return fmt.Errorf("%w: unrecognised archive format %q", ErrExtraction, filepath.Base(archivePath))
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: open %q: %v", ErrExtraction, archivePath, err)
	}
	defer f.Close()

	cr, err := newReader(format, f)
	if err != nil {
		return fmt.Errorf("%w: %s stream in %q: %v", ErrExtraction, format, archivePath, err)
	}
	defer cr.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return fmt.Errorf("%w: destination %q: %v", ErrExtraction, dest, err)
	}

	type dirTime struct {
		path  string
		mtime time.Time
	}
	var dirs []dirTime

	tr := tar.NewReader(cr)
	entries := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: read %q: %v", ErrExtraction, archivePath, err)
		}
		entries++

		target, err := safeJoin(root, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := checkResolved(root, target, hdr.Name); err != nil {
				return err
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("%w: mkdir %q: %v", ErrExtraction, target, err)
			}
			if err := os.Chmod(target, hdr.FileInfo().Mode().Perm()|0o700); err != nil {
				return fmt.Errorf("%w: chmod %q: %v", ErrExtraction, target, err)
			}
			dirs = append(dirs, dirTime{path: target, mtime: hdr.ModTime})
		case tar.TypeReg:
			if err := prepareLeaf(root, target, hdr.Name); err != nil {
				return err
			}
			if err := writeFile(tr, target, hdr); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := prepareLeaf(root, target, hdr.Name); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("%w: mkdir %q: %v", ErrExtraction, filepath.Dir(target), err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("%w: symlink %q: %v", ErrExtraction, target, err)
			}
		default:
			// Devices, fifos and hard links are never written by Create.
			continue
		}
	}
	if entries == 0 {
		return fmt.Errorf("%w: %q contains no entries", ErrExtraction, archivePath)
	}

	// Directory times are restored last; writing children changes them.
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Chtimes(dirs[i].path, dirs[i].mtime, dirs[i].mtime)
	}
	return nil
}

func writeFile(r io.Reader, target string, hdr *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %q: %v", ErrExtraction, filepath.Dir(target), err)
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
	if err != nil {
		return fmt.Errorf("%w: create %q: %v", ErrExtraction, target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("%w: write %q: %v", ErrExtraction, target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %q: %v", ErrExtraction, target, err)
	}
	return os.Chtimes(target, hdr.ModTime, hdr.ModTime)
}

// prepareLeaf checks that the parent of a file or symlink entry stays
// inside root once symlinks already extracted are followed, and removes
// an earlier non-directory entry at target so it is never written through.
func prepareLeaf(root, target, name string) error {
	if err := checkResolved(root, filepath.Dir(target), name); err != nil {
		return err
	}
	fi, err := os.Lstat(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("%w: stat %q: %v", ErrExtraction, target, err)
	case fi.IsDir():
		return fmt.Errorf("%w: entry %q replaces a directory", ErrExtraction, name)
	}
	if err := os.Remove(target); err != nil {
		return fmt.Errorf("%w: replace %q: %v", ErrExtraction, target, err)
	}
	return nil
}

// checkResolved resolves the deepest existing ancestor of path through
// symlinks and fails when it lies outside root.
func checkResolved(root, path, name string) error {
	existing := path
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return fmt.Errorf("%w: resolve %q: %v", ErrExtraction, existing, err)
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
		return fmt.Errorf("%w: entry %q escapes destination through a symlink", ErrExtraction, name)
	}
	return nil
}

// safeJoin resolves name below root and refuses absolute paths and
// ".." components that would escape it.
func safeJoin(root, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: absolute path %q in archive", ErrExtraction, name)
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: entry %q escapes destination", ErrExtraction, name)
	}
	return target, nil
}
