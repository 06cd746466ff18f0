package operations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kebairia/backman/internal/archive"
	"github.com/kebairia/backman/internal/config"
	"github.com/kebairia/backman/internal/database"
	"github.com/kebairia/backman/internal/logger"
	"github.com/kebairia/backman/internal/notify"
)

var (
	// ErrNotFound is returned by Restore when there is no archive to
	// restore.
	ErrNotFound = errors.New("no backup archive found")
	// ErrCanceled marks targets that were never started because the run
	// was cancelled.
	ErrCanceled = errors.New("backup canceled")
)

// Archiver creates the archive for a file or directory target.
type Archiver interface {
	Create(ctx context.Context, target, src string) (archive.Archive, error)
}

// Dumper creates the archive for a database target.
type Dumper interface {
	Dump(ctx context.Context, target config.Target) (archive.Archive, error)
}

// Uploader copies a finished archive somewhere off the host and returns
// its location.
type Uploader interface {
	Upload(ctx context.Context, a archive.Archive) (string, error)
}

// Notifier reports a finished run.
type Notifier interface {
	NotifyRun(ctx context.Context, r notify.Report) (bool, error)
}

// OperationManager runs backups and restores for one configuration.
type OperationManager struct {
	cfg      config.Config
	log      logger.Logger
	archiver Archiver
	dumper   Dumper
	uploader Uploader
	notifier Notifier
	secrets  database.SecretReader
	now      func() time.Time
	hostname string
}

// Option lets you override default collaborators on an OperationManager.
type Option func(*OperationManager)

// WithLogger sets the logger passed to every component.
func WithLogger(log logger.Logger) Option {
	return func(om *OperationManager) {
		if log != nil {
			om.log = log
		}
	}
}

// WithArchiver replaces the file/directory archiver.
func WithArchiver(a Archiver) Option {
	return func(om *OperationManager) {
		om.archiver = a
	}
}

// WithDumper replaces the database dumper.
func WithDumper(d Dumper) Option {
	return func(om *OperationManager) {
		om.dumper = d
	}
}

// WithUploader enables copying each archive after it is written.
func WithUploader(u Uploader) Option {
	return func(om *OperationManager) {
		om.uploader = u
	}
}

// WithNotifier enables the end-of-run report.
func WithNotifier(n Notifier) Option {
	return func(om *OperationManager) {
		om.notifier = n
	}
}

// WithSecrets lets the default dumper resolve vault_role credentials.
func WithSecrets(s database.SecretReader) Option {
	return func(om *OperationManager) {
		om.secrets = s
	}
}

// WithClock overrides the time source for run timestamps and archive names.
func WithClock(now func() time.Time) Option {
	return func(om *OperationManager) {
		if now != nil {
			om.now = now
		}
	}
}

// WithHostname sets the host name shown in notifications.
func WithHostname(name string) Option {
	return func(om *OperationManager) {
		om.hostname = name
	}
}

// NewOperationManager wires the default archiver and dumper for cfg. The
// configuration must already be validated.
func NewOperationManager(cfg config.Config, opts ...Option) (*OperationManager, error) {
	om := &OperationManager{
		cfg: cfg,
		log: logger.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(om)
	}
	if om.hostname == "" {
		om.hostname, _ = os.Hostname()
	}

	if om.archiver == nil || om.dumper == nil {
		format, err := archive.ParseFormat(cfg.Compression)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
		}
		a := archive.New(cfg.BackupDir, format,
			archive.WithClock(om.now),
			archive.WithLogger(om.log),
		)
		if om.archiver == nil {
			om.archiver = a
		}
		if om.dumper == nil {
			dopts := []database.DumperOption{
				database.WithTimeout(cfg.Timeout),
				database.WithLogger(om.log),
			}
			if om.secrets != nil {
				dopts = append(dopts, database.WithSecrets(om.secrets))
			}
			om.dumper = database.NewDumper(a, dopts...)
		}
	}
	return om, nil
}
