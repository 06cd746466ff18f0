package database

import (
	"context"
	"io"

	"github.com/kebairia/backman/internal/config"
)

// EnginePostgres names the pg_dump executor.
const EnginePostgres = config.TypePostgres

// PostgresOption lets you override default settings on a Postgres.
type PostgresOption func(*Postgres)

// Postgres dumps databases with pg_dump.
type Postgres struct {
	Binary string
	Method string // pg_dump -F value: "plain", "custom" or "tar"
}

var _ DumpExecutor = (*Postgres)(nil)

// NewPostgres returns a Postgres executor using pg_dump from PATH and
// plain SQL output.
func NewPostgres(opts ...PostgresOption) *Postgres {
	p := &Postgres{Binary: "pg_dump", Method: "plain"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithPostgresBinary overrides the pg_dump executable.
func WithPostgresBinary(path string) PostgresOption {
	return func(p *Postgres) {
		if path != "" {
			p.Binary = path
		}
	}
}

// WithPostgresMethod overrides output format (plain/custom/tar).
func WithPostgresMethod(method string) PostgresOption {
	return func(p *Postgres) {
		if method != "" {
			p.Method = method
		}
	}
}

// Engine returns the engine name.
func (p *Postgres) Engine() string { return EnginePostgres }

// Dump runs pg_dump and streams its output to w.
func (p *Postgres) Dump(ctx context.Context, conn config.DBConnection, w io.Writer) error {
	return run(ctx, p.command(conn), w)
}

func (p *Postgres) command(conn config.DBConnection) command {
	var args []string
	if conn.Host != "" {
		args = append(args, "-h", conn.Host)
	}
	if conn.Port != "" {
		args = append(args, "-p", conn.Port)
	}
	if conn.User != "" {
		args = append(args, "-U", conn.User)
	}
	// Never prompt: a missing password must fail instead of hanging.
	args = append(args, "--no-password", "-F", p.Method)
	args = append(args, conn.ExtraArgs...)
	args = append(args, "-d", conn.Database)

	c := command{binary: p.Binary, args: args}
	if conn.Password != "" {
		c.env = append(c.env, "PGPASSWORD="+conn.Password)
	}
	return c
}
