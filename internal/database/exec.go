package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// gracePeriod is how long a dump process gets to exit after SIGTERM
// before it is killed.
const gracePeriod = 10 * time.Second

// stderrLimit bounds how much utility output is kept for error messages.
const stderrLimit = 4 << 10

// command describes one external utility invocation.
type command struct {
	binary string
	args   []string
	env    []string
}

// run executes c, streaming stdout to w. A non-zero exit is reported as
// ErrDump together with the tail of stderr.
func run(ctx context.Context, c command, w io.Writer) error {
	cmd := exec.CommandContext(ctx, c.binary, c.args...)
	cmd.Env = append(os.Environ(), c.env...)
	cmd.Stdout = w
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	// SIGTERM on cancellation, SIGKILL once gracePeriod has passed.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = gracePeriod

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr) && msg != "":
			return fmt.Errorf("%w: %s exited with code %d: %s", ErrDump, c.binary, exitErr.ExitCode(), msg)
		case errors.As(err, &exitErr):
			return fmt.Errorf("%w: %s exited with code %d", ErrDump, c.binary, exitErr.ExitCode())
		default:
			return fmt.Errorf("%w: run %s: %v", ErrDump, c.binary, err)
		}
	}
	return nil
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
