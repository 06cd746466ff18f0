package database

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/backman/internal/archive"
	"github.com/kebairia/backman/internal/config"
	"github.com/kebairia/backman/internal/vault"
)

// fakeScript writes an executable shell script standing in for a dump utility.
func fakeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-dump")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

type fakeExecutor struct {
	engine string
	out    string
	err    error
	got    config.DBConnection
}

func (f *fakeExecutor) Engine() string { return f.engine }

func (f *fakeExecutor) Dump(_ context.Context, conn config.DBConnection, w io.Writer) error {
	f.got = conn
	if f.err != nil {
		return f.err
	}
	_, err := io.WriteString(w, f.out)
	return err
}

type fakeSecrets struct {
	creds vault.DynamicCredentials
	err   error
	role  string
}

func (f *fakeSecrets) GetDynamicCredentials(_ context.Context, role string) (vault.DynamicCredentials, error) {
	f.role = role
	return f.creds, f.err
}

func TestMySQLCommand(t *testing.T) {
	c := NewMySQL().command(config.DBConnection{
		Host: "db", Port: "3306", User: "root", Password: "s3cret", Database: "shop",
	})

	assert.Equal(t, "mysqldump", c.binary)
	assert.Equal(t, []string{
		"-h", "db", "-P", "3306", "-u", "root",
		"--single-transaction", "--routines", "--triggers",
		"--databases", "shop",
	}, c.args)
	assert.Equal(t, []string{"MYSQL_PWD=s3cret"}, c.env)
	for _, a := range c.args {
		assert.NotContains(t, a, "s3cret")
	}
}

func TestPostgresCommand(t *testing.T) {
	c := NewPostgres(WithPostgresMethod("custom")).command(config.DBConnection{
		Host: "pg", User: "app", Password: "pw", Database: "analytics", ExtraArgs: []string{"--schema=public"},
	})

	assert.Equal(t, "pg_dump", c.binary)
	assert.Equal(t, []string{
		"-h", "pg", "-U", "app", "--no-password", "-F", "custom", "--schema=public", "-d", "analytics",
	}, c.args)
	assert.Equal(t, []string{"PGPASSWORD=pw"}, c.env)
}

func TestRun_StreamsStdoutAndPassesEnv(t *testing.T) {
	bin := fakeScript(t, `echo "-- dump of $*"; echo "pw=$MYSQL_PWD"`)

	var out strings.Builder
	err := NewMySQL(WithMySQLBinary(bin)).Dump(context.Background(),
		config.DBConnection{User: "root", Password: "s3cret", Database: "shop"}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "--databases shop")
	assert.Contains(t, out.String(), "pw=s3cret")
}

func TestRun_NonZeroExitIsDumpError(t *testing.T) {
	bin := fakeScript(t, `echo "mysqldump: Got error: 1045: Access denied for user 'root'" >&2; exit 2`)

	err := NewMySQL(WithMySQLBinary(bin)).Dump(context.Background(),
		config.DBConnection{User: "root", Password: "wrong", Database: "shop"}, io.Discard)
	require.ErrorIs(t, err, ErrDump)
	assert.Contains(t, err.Error(), "Access denied")
	assert.Contains(t, err.Error(), "code 2")
}

func TestRun_MissingBinaryIsDumpError(t *testing.T) {
	err := NewPostgres(WithPostgresBinary(filepath.Join(t.TempDir(), "pg_dump"))).Dump(
		context.Background(), config.DBConnection{Database: "app"}, io.Discard)
	require.ErrorIs(t, err, ErrDump)
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{limit: 5}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defgh"))
	assert.Equal(t, "defgh", b.String())
}

func TestDumper_ArchivesDumpAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	a := archive.New(dir, archive.FormatGzip,
		archive.WithClock(func() time.Time { return time.Date(2025, 9, 4, 1, 2, 3, 0, time.Local) }))
	exec := &fakeExecutor{engine: EngineMySQL, out: "CREATE TABLE t (id int);\n"}
	d := NewDumper(a, WithExecutor(exec))

	arc, err := d.Dump(context.Background(), config.Target{
		Name: "shop", Type: config.TypeMySQL, Database: config.DBConnection{Database: "shop"},
	})
	require.NoError(t, err)
	assert.Equal(t, "shop_20250904_010203.tar.gz", filepath.Base(arc.Path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging directory must be removed")

	dest := t.TempDir()
	require.NoError(t, archive.Extract(context.Background(), arc.Path, dest))
	data, err := os.ReadFile(filepath.Join(dest, "shop.sql"))
	require.NoError(t, err)
	assert.Equal(t, exec.out, string(data))
}

func TestDumper_FailureLeavesNothingBehind(t *testing.T) {
	dir := t.TempDir()
	exec := &fakeExecutor{engine: EnginePostgres, err: errors.Join(ErrDump, errors.New("connection refused"))}
	d := NewDumper(archive.New(dir, archive.FormatGzip), WithExecutor(exec))

	_, err := d.Dump(context.Background(), config.Target{
		Name: "analytics", Type: config.TypePostgres, Database: config.DBConnection{Database: "analytics"},
	})
	require.ErrorIs(t, err, ErrDump)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDumper_TimeoutIsReported(t *testing.T) {
	bin := fakeScript(t, `exec sleep 5`)
	d := NewDumper(archive.New(t.TempDir(), archive.FormatGzip),
		WithExecutor(NewPostgres(WithPostgresBinary(bin))),
		WithTimeout(100*time.Millisecond))

	_, err := d.Dump(context.Background(), config.Target{
		Name: "slow", Type: config.TypePostgres, Database: config.DBConnection{Database: "slow"},
	})
	require.ErrorIs(t, err, ErrDump)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestDumper_VaultCredentials(t *testing.T) {
	exec := &fakeExecutor{engine: EnginePostgres, out: "--"}
	secrets := &fakeSecrets{creds: vault.DynamicCredentials{Username: "v-user", Password: "v-pass"}}
	d := NewDumper(archive.New(t.TempDir(), archive.FormatGzip), WithExecutor(exec), WithSecrets(secrets))

	_, err := d.Dump(context.Background(), config.Target{
		Name: "analytics", Type: config.TypePostgres,
		Database: config.DBConnection{Database: "analytics", User: "static", VaultRole: "database/creds/analytics"},
	})
	require.NoError(t, err)
	assert.Equal(t, "database/creds/analytics", secrets.role)
	assert.Equal(t, "v-user", exec.got.User)
	assert.Equal(t, "v-pass", exec.got.Password)
}

func TestDumper_VaultRoleWithoutClient(t *testing.T) {
	d := NewDumper(archive.New(t.TempDir(), archive.FormatGzip),
		WithExecutor(&fakeExecutor{engine: EnginePostgres}))

	_, err := d.Dump(context.Background(), config.Target{
		Name: "analytics", Type: config.TypePostgres,
		Database: config.DBConnection{Database: "analytics", VaultRole: "database/creds/analytics"},
	})
	require.ErrorIs(t, err, ErrDump)
}
