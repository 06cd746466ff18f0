package database

import (
	"context"
	"io"

	"github.com/kebairia/backman/internal/config"
)

// EngineMySQL names the mysqldump executor.
const EngineMySQL = config.TypeMySQL

// MySQLOption lets you override default settings on a MySQL.
type MySQLOption func(*MySQL)

// MySQL dumps databases with mysqldump.
type MySQL struct {
	Binary string
}

var _ DumpExecutor = (*MySQL)(nil)

// NewMySQL returns a MySQL executor using mysqldump from PATH.
func NewMySQL(opts ...MySQLOption) *MySQL {
	m := &MySQL{Binary: "mysqldump"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithMySQLBinary overrides the mysqldump executable.
func WithMySQLBinary(path string) MySQLOption {
	return func(m *MySQL) {
		if path != "" {
			m.Binary = path
		}
	}
}

// Engine returns the engine name.
func (m *MySQL) Engine() string { return EngineMySQL }

// Dump runs mysqldump in a single transaction and streams the SQL to w.
func (m *MySQL) Dump(ctx context.Context, conn config.DBConnection, w io.Writer) error {
	return run(ctx, m.command(conn), w)
}

func (m *MySQL) command(conn config.DBConnection) command {
	var args []string
	if conn.Host != "" {
		args = append(args, "-h", conn.Host)
	}
	if conn.Port != "" {
		args = append(args, "-P", conn.Port)
	}
	if conn.User != "" {
		args = append(args, "-u", conn.User)
	}
	args = append(args, "--single-transaction", "--routines", "--triggers")
	args = append(args, conn.ExtraArgs...)
	args = append(args, "--databases", conn.Database)

	c := command{binary: m.Binary, args: args}
	// Pass MYSQL_PWD for non-interactive auth
	if conn.Password != "" {
		c.env = append(c.env, "MYSQL_PWD="+conn.Password)
	}
	return c
}
