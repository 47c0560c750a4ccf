package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jonesrussell/siteops/internal/config"
)

const (
	stderrLimit = 64 * 1024
	waitDelay   = 10 * time.Second
)

// ErrToolingMissing is returned when the dump binary cannot be found.
var ErrToolingMissing = errors.New("dump tooling missing")

// DumpError is returned when the dump binary ran and exited nonzero.
type DumpError struct {
	ExitCode int
	Stderr   string
}

func (e *DumpError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("dump exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("dump exited with code %d: %s", e.ExitCode, msg)
}

// Dumper streams a database export to w.
type Dumper interface {
	Dump(ctx context.Context, w io.Writer) error
}

// PgDumper runs pg_dump as a subprocess.
type PgDumper struct {
	binary   string
	args     []string
	password string
}

// NewPgDumper creates a dumper for db using binary (a name on PATH or a path).
func NewPgDumper(binary string, db config.DatabaseConfig) *PgDumper {
	return &PgDumper{
		binary:   binary,
		args:     db.DumpArgs(),
		password: db.Password,
	}
}

// Dump runs the binary with stdout streamed to w. Cancelling ctx kills the
// process.
func (d *PgDumper) Dump(ctx context.Context, w io.Writer) error {
	path, err := exec.LookPath(d.binary)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrToolingMissing, d.binary, err)
	}

	stderr := &tailBuffer{limit: stderrLimit}

	cmd := exec.CommandContext(ctx, path, d.args...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+d.password)
	cmd.Stdout = w
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	runErr := cmd.Run()
	if runErr == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("dump interrupted: %w", ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return &DumpError{ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
	}

	return fmt.Errorf("run %s: %w", d.binary, runErr)
}

// tailBuffer keeps the last limit bytes written to it.
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

func (b *tailBuffer) String() string { return string(b.buf) }
