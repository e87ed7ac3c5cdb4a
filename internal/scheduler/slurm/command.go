package slurm

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasew/slurm-executor/internal/sanitize"
)

// Commander runs a Slurm client command and returns its standard output.
type Commander interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecCommander runs the Slurm binaries found in BinDir, or in PATH when
// BinDir is empty.
type ExecCommander struct {
	BinDir  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Run executes the command with a bounded timeout. A non-zero exit status
// is returned as an error carrying the trimmed standard error.
func (e *ExecCommander) Run(ctx context.Context, name string, args ...string) (string, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bin := name
	if e.BinDir != "" {
		bin = filepath.Join(e.BinDir, name)
	}

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, bin, args...)
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()

	if e.Logger != nil {
		e.Logger.Debug("slurm command",
			"cmd", name,
			"args", sanitize.Args(args),
			"exit_code", c.ProcessState.ExitCode(),
			"stdout", sanitize.String(strings.TrimSpace(stdout.String())),
			"stderr", sanitize.String(strings.TrimSpace(stderr.String())))
	}

	if err != nil {
		return stdout.String(), fmt.Errorf("%s: %w: %s", name, err, sanitize.String(strings.TrimSpace(stderr.String())))
	}
	return stdout.String(), nil
}
