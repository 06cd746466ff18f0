package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kebairia/backman/internal/archive"
	"github.com/kebairia/backman/internal/config"
	"github.com/kebairia/backman/internal/logger"
	"github.com/kebairia/backman/internal/vault"
)

var (
	// ErrDump is returned when the external dump utility fails: bad
	// credentials, unreachable server, missing binary or non-zero exit.
	// Dumps are never retried automatically.
	ErrDump    = errors.New("database dump failed")
	ErrTimeout = errors.New("operation timed out")
)

// DumpExecutor writes a logical dump of one database to w.
type DumpExecutor interface {
	Engine() string
	Dump(ctx context.Context, conn config.DBConnection, w io.Writer) error
}

// SecretReader resolves dynamic database credentials, e.g. from Vault.
type SecretReader interface {
	GetDynamicCredentials(ctx context.Context, role string) (vault.DynamicCredentials, error)
}

// Dumper runs a DumpExecutor into a temporary file and hands the file to
// the Archiver. The uncompressed dump never outlives the call.
type Dumper struct {
	executors map[string]DumpExecutor
	archiver  *archive.Archiver
	secrets   SecretReader
	tempDir   string
	timeout   time.Duration
	log       logger.Logger
}

// DumperOption lets you override default settings on a Dumper.
type DumperOption func(*Dumper)

// NewDumper returns a Dumper that archives through a. Executors default
// to mysqldump and pg_dump found on PATH.
func NewDumper(a *archive.Archiver, opts ...DumperOption) *Dumper {
	d := &Dumper{
		executors: map[string]DumpExecutor{
			EngineMySQL:    NewMySQL(),
			EnginePostgres: NewPostgres(),
		},
		archiver: a,
		tempDir:  a.Dir,
		timeout:  time.Hour,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithExecutor registers or replaces the executor for its engine.
func WithExecutor(e DumpExecutor) DumperOption {
	return func(d *Dumper) {
		if e != nil {
			d.executors[e.Engine()] = e
		}
	}
}

// WithSecrets enables vault_role lookups.
func WithSecrets(s SecretReader) DumperOption {
	return func(d *Dumper) {
		d.secrets = s
	}
}

// WithTimeout bounds each dump.
func WithTimeout(timeout time.Duration) DumperOption {
	return func(d *Dumper) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithTempDir overrides where uncompressed dumps are staged.
func WithTempDir(dir string) DumperOption {
	return func(d *Dumper) {
		if dir != "" {
			d.tempDir = dir
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) DumperOption {
	return func(d *Dumper) {
		if log != nil {
			d.log = log
		}
	}
}

// Dump backs up a mysql or postgres target and returns the archive.
func (d *Dumper) Dump(ctx context.Context, target config.Target) (archive.Archive, error) {
	exec, ok := d.executors[target.Type]
	if !ok {
		return archive.Archive{}, fmt.Errorf("%w: no dump executor for type %q", ErrDump, target.Type)
	}

	conn, err := d.credentials(ctx, target.Database)
	if err != nil {
		return archive.Archive{}, err
	}

	if err := os.MkdirAll(d.tempDir, 0o755); err != nil {
		return archive.Archive{}, fmt.Errorf("%w: create temp directory %q: %v", archive.ErrIO, d.tempDir, err)
	}
	stage, err := os.MkdirTemp(d.tempDir, ".dump-"+target.Name+"-")
	if err != nil {
		return archive.Archive{}, fmt.Errorf("%w: create staging directory: %v", archive.ErrIO, err)
	}
	defer func() {
		if err := os.RemoveAll(stage); err != nil {
			d.log.Warn("remove dump staging directory", "path", stage, "error", err)
		}
	}()

	dumpPath := filepath.Join(stage, target.Name+".sql")
	log := d.log.With("target", target.Name, "engine", exec.Engine(), "database", conn.Database)
	log.Info("dump started")
	start := time.Now()
	if err := d.runExecutor(ctx, exec, conn, dumpPath); err != nil {
		log.Error("dump failed", "error", err)
		return archive.Archive{}, err
	}
	log.Info("dump completed", "duration", time.Since(start).String())

	return d.archiver.Create(ctx, target.Name, dumpPath)
}

func (d *Dumper) runExecutor(ctx context.Context, exec DumpExecutor, conn config.DBConnection, path string) (err error) {
	ctx, cancel := context.WithTimeoutCause(ctx, d.timeout, ErrTimeout)
	defer cancel()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("%w: create dump file: %v", archive.ErrIO, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close dump file: %v", archive.ErrIO, cerr)
		}
	}()

	if err := exec.Dump(ctx, conn, f); err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
			return fmt.Errorf("%w (%w)", err, cause)
		}
		return err
	}
	return f.Sync()
}

func (d *Dumper) credentials(ctx context.Context, conn config.DBConnection) (config.DBConnection, error) {
	if conn.VaultRole == "" {
		return conn, nil
	}
	if d.secrets == nil {
		return conn, fmt.Errorf("%w: vault_role %q set but no vault client configured", ErrDump, conn.VaultRole)
	}
	creds, err := d.secrets.GetDynamicCredentials(ctx, conn.VaultRole)
	if err != nil {
		return conn, fmt.Errorf("%w: vault credentials %q: %v", ErrDump, conn.VaultRole, err)
	}
	conn.User = creds.Username
	conn.Password = creds.Password
	return conn, nil
}
