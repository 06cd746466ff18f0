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
	"time"

	"github.com/kebairia/backman/internal/logger"
)

var (
	// ErrIO is returned when the source is missing or the destination
	// cannot be written.
	ErrIO = errors.New("archive i/o failed")
	// ErrExtraction is returned when an archive is corrupt or its format
	// is not recognised.
	ErrExtraction = errors.New("archive extraction failed")
)

// partialSuffix marks an archive that is still being written.
const partialSuffix = ".partial"

// Option lets you override default settings on an Archiver.
type Option func(*Archiver)

// Archiver writes compressed tar archives into a single directory.
type Archiver struct {
	Dir    string
	Format Format
	Now    func() time.Time
	Logger logger.Logger
}

// New returns an Archiver writing into dir.
func New(dir string, format Format, opts ...Option) *Archiver {
	a := &Archiver{
		Dir:    dir,
		Format: format,
		Now:    time.Now,
		Logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithClock overrides the time source used for archive names.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		if now != nil {
			a.Now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(a *Archiver) {
		if log != nil {
			a.Logger = log
		}
	}
}

// Create archives src (a file or a directory tree) as target. Entries are
// rooted at the base name of src. The archive is written under a temporary
// name and renamed into place, so a failed or cancelled run never leaves a
// partial archive behind under the final name. A symlinked src is
// followed; symlinks below it are stored as links.
func (a *Archiver) Create(ctx context.Context, target, src string) (Archive, error) {
	abs, err := filepath.Abs(src)
	if err != nil {
		return Archive{}, fmt.Errorf("%w: source %q: %v", ErrIO, src, err)
	}
	name := filepath.Base(abs)
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return Archive{}, fmt.Errorf("%w: source %q: %v", ErrIO, src, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return Archive{}, fmt.Errorf("%w: source %q: %v", ErrIO, src, err)
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return Archive{}, fmt.Errorf("%w: source %q is neither a file nor a directory", ErrIO, src)
	}
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return Archive{}, fmt.Errorf("%w: create backup directory %q: %v", ErrIO, a.Dir, err)
	}

	createdAt := a.Now().Truncate(time.Second)
	finalPath, createdAt, err := a.reserve(target, createdAt)
	if err != nil {
		return Archive{}, err
	}
	tmpPath := finalPath + partialSuffix

	if err := a.write(ctx, tmpPath, resolved, name, info); err != nil {
		os.Remove(tmpPath)
		return Archive{}, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return Archive{}, fmt.Errorf("%w: rename %q: %v", ErrIO, tmpPath, err)
	}

	a.Logger.Debug("archive written", "target", target, "path", finalPath)
	return Archive{
		Path:      finalPath,
		Target:    target,
		CreatedAt: createdAt,
		Format:    a.Format,
	}, nil
}

// reserve picks the first free archive name at or after t. Two runs within
// the same second therefore still produce two distinct archives.
func (a *Archiver) reserve(target string, t time.Time) (string, time.Time, error) {
	for i := 0; i < 3600; i++ {
		path := filepath.Join(a.Dir, Name(target, t, a.Format))
		_, err := os.Lstat(path)
		if errors.Is(err, fs.ErrNotExist) {
			if _, err := os.Lstat(path + partialSuffix); errors.Is(err, fs.ErrNotExist) {
				return path, t, nil
			}
		} else if err != nil {
			return "", t, fmt.Errorf("%w: stat %q: %v", ErrIO, path, err)
		}
		t = t.Add(time.Second)
	}
	return "", t, fmt.Errorf("%w: no free archive name for %q", ErrIO, target)
}

func (a *Archiver) write(ctx context.Context, path, src, name string, info fs.FileInfo) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("%w: create %q: %v", ErrIO, path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %q: %v", ErrIO, path, cerr)
		}
	}()

	cw, err := newWriter(a.Format, f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	tw := tar.NewWriter(cw)

	// The archive itself must not end up inside the archive when the
	// backup directory lives below src.
	self, _ := filepath.Abs(path)
	if dir, err := filepath.EvalSymlinks(filepath.Dir(self)); err == nil {
		self = filepath.Join(dir, filepath.Base(self))
	}
	if err := addTree(ctx, tw, src, name, info, self); err != nil {
		_ = cw.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("%w: finish tar stream: %v", ErrIO, err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("%w: finish compression: %v", ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %q: %v", ErrIO, path, err)
	}
	return nil
}

// addTree writes src and, for directories, everything below it.
func addTree(ctx context.Context, tw *tar.Writer, src, root string, info fs.FileInfo, exclude string) error {
	if !info.IsDir() {
		return addEntry(tw, src, root, info)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("%w: walk %q: %v", ErrIO, path, walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if abs, _ := filepath.Abs(path); abs == exclude {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf("%w: stat %q: %v", ErrIO, path, err)
		}
		return addEntry(tw, path, filepath.ToSlash(filepath.Join(root, rel)), fi)
	})
}

func addEntry(tw *tar.Writer, path, name string, fi fs.FileInfo) error {
	var link string
	if fi.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return fmt.Errorf("%w: readlink %q: %v", ErrIO, path, err)
		}
		link = target
	}

	hdr, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return fmt.Errorf("%w: header for %q: %v", ErrIO, path, err)
	}
	hdr.Name = name
	if fi.IsDir() {
		hdr.Name += "/"
	}
	// Owner names depend on the host; numeric ids are kept.
	hdr.Uname, hdr.Gname = "", ""

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("%w: write header %q: %v", ErrIO, name, err)
	}
	if !fi.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %q: %v", ErrIO, path, err)
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("%w: copy %q: %v", ErrIO, path, err)
	}
	return nil
}
