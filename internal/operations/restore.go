package operations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/kebairia/backman/internal/archive"
)

// RestoreOptions narrows what Restore picks.
type RestoreOptions struct {
	// Target restricts the search to archives of one target.
	Target string
	// Archive restores this file instead of searching backup_dir.
	Archive string
}

// List returns the recognised archives in backup_dir, newest first. A
// missing backup directory yields an empty list.
func (om *OperationManager) List() ([]archive.Archive, error) {
	entries, err := os.ReadDir(om.cfg.BackupDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read backup directory %q: %v", archive.ErrIO, om.cfg.BackupDir, err)
	}

	var out []archive.Archive
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		a, ok := describe(filepath.Join(om.cfg.BackupDir, e.Name()), e)
		if ok {
			out = append(out, a)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// describe identifies an archive by its name, falling back to the file's
// modification time for archives named some other way.
func describe(path string, e fs.DirEntry) (archive.Archive, bool) {
	if a, ok := archive.ParseName(path); ok {
		return a, true
	}
	format, ok := archive.FormatFromPath(path)
	if !ok {
		return archive.Archive{}, false
	}
	info, err := e.Info()
	if err != nil {
		return archive.Archive{}, false
	}
	return archive.Archive{
		Path:      path,
		CreatedAt: info.ModTime(),
		Format:    format,
	}, true
}

// sortNewestFirst orders by timestamp, then by file name, both descending,
// so the order does not depend on how the directory was listed.
func sortNewestFirst(as []archive.Archive) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].CreatedAt.After(as[j].CreatedAt)
		}
		return filepath.Base(as[i].Path) > filepath.Base(as[j].Path)
	})
}

// Latest returns the archive with the greatest timestamp, optionally
// restricted to one target.
func Latest(as []archive.Archive, target string) (archive.Archive, bool) {
	var candidates []archive.Archive
	for _, a := range as {
		if target == "" || a.Target == target {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return archive.Archive{}, false
	}
	sortNewestFirst(candidates)
	return candidates[0], true
}

// Restore extracts the selected archive into restore_dir. Extraction goes
// to a staging directory first; the archive's top-level entries replace
// their namesakes in restore_dir only once the whole archive has been
// unpacked, so a failed restore leaves restore_dir as it was. Other files
// in restore_dir are kept.
func (om *OperationManager) Restore(ctx context.Context, opts RestoreOptions) (archive.Archive, error) {
	a, err := om.selectArchive(opts)
	if err != nil {
		om.log.Error("restore failed", "error", err)
		return archive.Archive{}, err
	}

	log := om.log.With("archive", a.Path, "restore_dir", om.cfg.RestoreDir)
	log.Info("restore started")
	start := om.now()
	if err := om.extractInto(ctx, a.Path, om.cfg.RestoreDir); err != nil {
		log.Error("restore failed", "error", err)
		return archive.Archive{}, err
	}
	log.Info("restore completed", "duration", om.now().Sub(start).String())
	return a, nil
}

func (om *OperationManager) selectArchive(opts RestoreOptions) (archive.Archive, error) {
	if opts.Archive != "" {
		info, err := os.Stat(opts.Archive)
		if err != nil {
			return archive.Archive{}, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		if info.IsDir() {
			return archive.Archive{}, fmt.Errorf("%w: %q is a directory", ErrNotFound, opts.Archive)
		}
		if a, ok := archive.ParseName(opts.Archive); ok {
			return a, nil
		}
		format, _ := archive.FormatFromPath(opts.Archive)
		return archive.Archive{Path: opts.Archive, CreatedAt: info.ModTime(), Format: format}, nil
	}

	all, err := om.List()
	if err != nil {
		return archive.Archive{}, err
	}
	a, ok := Latest(all, opts.Target)
	if !ok {
		if opts.Target != "" {
			return archive.Archive{}, fmt.Errorf("%w: no archive for target %q in %q", ErrNotFound, opts.Target, om.cfg.BackupDir)
		}
		return archive.Archive{}, fmt.Errorf("%w: %q has no recognised archives", ErrNotFound, om.cfg.BackupDir)
	}
	return a, nil
}

// extractInto unpacks src into a staging directory beside dest, then
// moves each top-level entry of the archive into dest. Existing entries of
// the same name are replaced; anything else in dest is left alone. When a
// move fails, entries already swapped are put back.
func (om *OperationManager) extractInto(ctx context.Context, src, dest string) error {
	dest = filepath.Clean(dest)
	parent, base := filepath.Split(dest)
	if parent == "" {
		parent = "."
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("%w: create %q: %v", archive.ErrIO, parent, err)
	}

	stage, err := os.MkdirTemp(parent, "."+base+".restore-")
	if err != nil {
		return fmt.Errorf("%w: create staging directory: %v", archive.ErrIO, err)
	}
	old := stage + ".old"
	keepOld := false
	defer func() {
		dirs := []string{stage}
		if keepOld {
			om.log.Warn("previous entries kept after failed roll back", "path", old)
		} else {
			dirs = append(dirs, old)
		}
		for _, dir := range dirs {
			if err := os.RemoveAll(dir); err != nil {
				om.log.Warn("remove staging directory", "path", dir, "error", err)
			}
		}
	}()

	if err := archive.Extract(ctx, src, stage); err != nil {
		return err
	}
	entries, err := os.ReadDir(stage)
	if err != nil {
		return fmt.Errorf("%w: read staging directory: %v", archive.ErrIO, err)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("%w: create %q: %v", archive.ErrIO, dest, err)
	}
	if err := os.Mkdir(old, 0o700); err != nil {
		return fmt.Errorf("%w: create %q: %v", archive.ErrIO, old, err)
	}

	var swapped []string
	rollback := func(pending string) {
		ok := true
		if pending != "" {
			ok = om.putBack(dest, old, pending, false)
		}
		for i := len(swapped) - 1; i >= 0; i-- {
			ok = om.putBack(dest, old, swapped[i], true) && ok
		}
		keepOld = !ok
	}

	for _, e := range entries {
		name := e.Name()
		live := filepath.Join(dest, name)
		if _, err := os.Lstat(live); err == nil {
			if err := os.Rename(live, filepath.Join(old, name)); err != nil {
				rollback("")
				return fmt.Errorf("%w: move previous %q aside: %v", archive.ErrIO, live, err)
			}
		}
		if err := os.Rename(filepath.Join(stage, name), live); err != nil {
			rollback(name)
			return fmt.Errorf("%w: move restored %q into place: %v", archive.ErrIO, name, err)
		}
		swapped = append(swapped, name)
	}
	return nil
}

// putBack undoes one swap. It drops the restored entry when placed is set
// and renames the previous entry, if any, back into dest. It reports
// whether dest was fully restored.
func (om *OperationManager) putBack(dest, old, name string, placed bool) bool {
	live := filepath.Join(dest, name)
	if placed {
		if err := os.RemoveAll(live); err != nil {
			om.log.Warn("roll back restored entry", "path", live, "error", err)
			return false
		}
	}
	prev := filepath.Join(old, name)
	if _, err := os.Lstat(prev); err != nil {
		return true
	}
	if err := os.Rename(prev, live); err != nil {
		om.log.Warn("roll back previous entry", "path", live, "saved", prev, "error", err)
		return false
	}
	return true
}
