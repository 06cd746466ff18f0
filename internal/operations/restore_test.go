package operations

import (
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/backman/internal/archive"
	"github.com/kebairia/backman/internal/config"
)

// seedArchive archives a one-file "data" directory holding content at ts.
func seedArchive(t *testing.T, backupDir, target, content string, ts time.Time) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), target)
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "version.txt"), []byte(content), 0o644))

	a, err := archive.New(backupDir, archive.FormatGzip, archive.WithClock(fixedClock(ts))).
		Create(context.Background(), target, src)
	require.NoError(t, err)
	return a.Path
}

func restoreManager(t *testing.T) (*OperationManager, config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Config{
		BackupDir:   filepath.Join(root, "backups"),
		RestoreDir:  filepath.Join(root, "restored"),
		Compression: "gz",
		Concurrency: 1,
		Timeout:     time.Minute,
	}
	om, err := NewOperationManager(cfg)
	require.NoError(t, err)
	return om, cfg
}

func readRestored(t *testing.T, cfg config.Config, target string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(cfg.RestoreDir, target, "version.txt"))
	require.NoError(t, err)
	return string(b)
}

func TestRestore_SelectsLatestArchive(t *testing.T) {
	om, cfg := restoreManager(t)
	seedArchive(t, cfg.BackupDir, "data", "old", time.Date(2025, 9, 3, 10, 0, 0, 0, time.Local))
	latest := seedArchive(t, cfg.BackupDir, "data", "new", time.Date(2025, 9, 4, 12, 36, 23, 0, time.Local))
	assert.Equal(t, "data_20250904_123623.tar.gz", filepath.Base(latest))

	a, err := om.Restore(context.Background(), RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, latest, a.Path)
	assert.Equal(t, "new", readRestored(t, cfg, "data"))
}

func TestRestore_EmptyBackupDir(t *testing.T) {
	om, cfg := restoreManager(t)
	require.NoError(t, os.MkdirAll(cfg.BackupDir, 0o755))

	_, err := om.Restore(context.Background(), RestoreOptions{})
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoDirExists(t, cfg.RestoreDir)

	entries, err := os.ReadDir(filepath.Dir(cfg.RestoreDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no staging directory left behind")
}

func TestRestore_MissingBackupDir(t *testing.T) {
	om, _ := restoreManager(t)
	_, err := om.Restore(context.Background(), RestoreOptions{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRestore_IgnoresUnrecognisedFiles(t *testing.T) {
	om, cfg := restoreManager(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.BackupDir, ".dump-shop-123"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.BackupDir, "README"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.BackupDir, "data_20991231_000000.tar.gz.partial"), []byte("x"), 0o644))

	_, err := om.Restore(context.Background(), RestoreOptions{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRestore_TwiceRestoresSameArchive(t *testing.T) {
	om, cfg := restoreManager(t)
	seedArchive(t, cfg.BackupDir, "data", "v1", time.Date(2025, 9, 3, 10, 0, 0, 0, time.Local))
	seedArchive(t, cfg.BackupDir, "data", "v2", time.Date(2025, 9, 4, 10, 0, 0, 0, time.Local))

	first, err := om.Restore(context.Background(), RestoreOptions{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.RestoreDir, "data", "stray.txt"), []byte("x"), 0o644))

	second, err := om.Restore(context.Background(), RestoreOptions{})
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, "v2", readRestored(t, cfg, "data"))
	assert.NoFileExists(t, filepath.Join(cfg.RestoreDir, "data", "stray.txt"), "the restored tree replaces its namesake")
}

func TestRestore_KeepsUnrelatedEntries(t *testing.T) {
	om, cfg := restoreManager(t)
	seedArchive(t, cfg.BackupDir, "alpha", "a1", time.Date(2025, 9, 3, 10, 0, 0, 0, time.Local))
	seedArchive(t, cfg.BackupDir, "beta", "b1", time.Date(2025, 9, 4, 10, 0, 0, 0, time.Local))

	require.NoError(t, os.MkdirAll(cfg.RestoreDir, 0o755))
	notes := filepath.Join(cfg.RestoreDir, "operator_notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("keep me"), 0o644))

	_, err := om.Restore(context.Background(), RestoreOptions{Target: "alpha"})
	require.NoError(t, err)
	_, err = om.Restore(context.Background(), RestoreOptions{Target: "beta"})
	require.NoError(t, err)

	got, err := os.ReadFile(notes)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(got))
	assert.Equal(t, "a1", readRestored(t, cfg, "alpha"))
	assert.Equal(t, "b1", readRestored(t, cfg, "beta"))

	entries, err := os.ReadDir(filepath.Dir(cfg.RestoreDir))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "staging directories are removed")
}

func TestRestore_FailedSwapLeavesRestoreDirIntact(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	om, cfg := restoreManager(t)
	seedArchive(t, cfg.BackupDir, "data", "v1", time.Date(2025, 9, 3, 10, 0, 0, 0, time.Local))
	_, err := om.Restore(context.Background(), RestoreOptions{})
	require.NoError(t, err)
	seedArchive(t, cfg.BackupDir, "data", "v2", time.Date(2025, 9, 4, 10, 0, 0, 0, time.Local))

	require.NoError(t, os.Chmod(cfg.RestoreDir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(cfg.RestoreDir, 0o755) })

	_, err = om.Restore(context.Background(), RestoreOptions{})
	require.ErrorIs(t, err, archive.ErrIO)
	assert.Equal(t, "v1", readRestored(t, cfg, "data"))

	entries, err := os.ReadDir(filepath.Dir(cfg.RestoreDir))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "staging directories are removed")
}

func TestRestore_PlainTarArchive(t *testing.T) {
	om, cfg := restoreManager(t)
	gz := seedArchive(t, cfg.BackupDir, "data", "from-tar", time.Date(2025, 9, 3, 10, 0, 0, 0, time.Local))
	tarPath := filepath.Join(cfg.BackupDir, "data_20250905_000000.tar")
	require.NoError(t, gunzipTo(gz, tarPath))

	a, err := om.Restore(context.Background(), RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, tarPath, a.Path)
	assert.Equal(t, archive.FormatTar, a.Format)
	assert.Equal(t, "from-tar", readRestored(t, cfg, "data"))
}

func gunzipTo(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	zr, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer zr.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func TestRestore_CorruptArchiveLeavesRestoreDirUntouched(t *testing.T) {
	om, cfg := restoreManager(t)
	seedArchive(t, cfg.BackupDir, "data", "good", time.Date(2025, 9, 3, 10, 0, 0, 0, time.Local))
	_, err := om.Restore(context.Background(), RestoreOptions{})
	require.NoError(t, err)

	bad := filepath.Join(cfg.BackupDir, "data_20250904_000000.tar.gz")
	require.NoError(t, os.WriteFile(bad, []byte("definitely not gzip"), 0o644))

	_, err = om.Restore(context.Background(), RestoreOptions{})
	require.ErrorIs(t, err, archive.ErrExtraction)
	assert.Equal(t, "good", readRestored(t, cfg, "data"))

	entries, err := os.ReadDir(filepath.Dir(cfg.RestoreDir))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"backups", "restored"}, names)
}

func TestRestore_ByTarget(t *testing.T) {
	om, cfg := restoreManager(t)
	seedArchive(t, cfg.BackupDir, "data", "data-v1", time.Date(2025, 9, 3, 10, 0, 0, 0, time.Local))
	seedArchive(t, cfg.BackupDir, "www", "www-v1", time.Date(2025, 9, 5, 10, 0, 0, 0, time.Local))

	a, err := om.Restore(context.Background(), RestoreOptions{Target: "data"})
	require.NoError(t, err)
	assert.Equal(t, "data", a.Target)
	assert.Equal(t, "data-v1", readRestored(t, cfg, "data"))

	_, err = om.Restore(context.Background(), RestoreOptions{Target: "nope"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRestore_ExplicitArchive(t *testing.T) {
	om, cfg := restoreManager(t)
	older := seedArchive(t, cfg.BackupDir, "data", "old", time.Date(2025, 9, 3, 10, 0, 0, 0, time.Local))
	seedArchive(t, cfg.BackupDir, "data", "new", time.Date(2025, 9, 4, 10, 0, 0, 0, time.Local))

	a, err := om.Restore(context.Background(), RestoreOptions{Archive: older})
	require.NoError(t, err)
	assert.Equal(t, older, a.Path)
	assert.Equal(t, "old", readRestored(t, cfg, "data"))

	_, err = om.Restore(context.Background(), RestoreOptions{Archive: filepath.Join(cfg.BackupDir, "missing.tar.gz")})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLatest_IndependentOfListingOrder(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)
	var as []archive.Archive
	for i := 0; i < 20; i++ {
		ts := base.Add(time.Duration(i*37) * time.Hour)
		as = append(as, archive.Archive{
			Path:      filepath.Join("/backups", archive.Name("data", ts, archive.FormatGzip)),
			Target:    "data",
			CreatedAt: ts,
			Format:    archive.FormatGzip,
		})
	}
	want := as[len(as)-1]

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		shuffled := append([]archive.Archive(nil), as...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, ok := Latest(shuffled, "")
		require.True(t, ok)
		assert.Equal(t, want.Path, got.Path)
	}
}

func TestLatest_TieBrokenByName(t *testing.T) {
	ts := time.Date(2025, 9, 4, 0, 0, 0, 0, time.Local)
	a := archive.Archive{Path: "/b/alpha_20250904_000000.tar.gz", Target: "alpha", CreatedAt: ts}
	b := archive.Archive{Path: "/b/beta_20250904_000000.tar.gz", Target: "beta", CreatedAt: ts}

	got1, _ := Latest([]archive.Archive{a, b}, "")
	got2, _ := Latest([]archive.Archive{b, a}, "")
	assert.Equal(t, got1.Path, got2.Path)
	assert.Equal(t, b.Path, got1.Path)

	_, ok := Latest(nil, "")
	assert.False(t, ok)
}

func TestList_NewestFirstWithMtimeFallback(t *testing.T) {
	om, cfg := restoreManager(t)
	seedArchive(t, cfg.BackupDir, "data", "a", time.Date(2025, 9, 3, 10, 0, 0, 0, time.Local))
	seedArchive(t, cfg.BackupDir, "data", "b", time.Date(2025, 9, 4, 10, 0, 0, 0, time.Local))

	manual := filepath.Join(cfg.BackupDir, "manual-copy.tar.bz2")
	require.NoError(t, os.WriteFile(manual, []byte("x"), 0o644))
	mtime := time.Date(2025, 9, 3, 20, 0, 0, 0, time.Local)
	require.NoError(t, os.Chtimes(manual, mtime, mtime))

	got, err := om.List()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "data_20250904_100000.tar.gz", filepath.Base(got[0].Path))
	assert.Equal(t, "manual-copy.tar.bz2", filepath.Base(got[1].Path))
	assert.Equal(t, archive.FormatBzip2, got[1].Format)
	assert.Equal(t, "data_20250903_100000.tar.gz", filepath.Base(got[2].Path))
}
