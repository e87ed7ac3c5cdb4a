package worker

import (
	"context"
	"errors"
	"io"
	"os/exec"
)

// Executor runs one step script with dir as working directory, writing
// combined output to out. It returns the script exit status; err is only
// set when the script could not be started at all.
type Executor interface {
	Execute(ctx context.Context, script, dir string, out io.Writer) (int, error)
}

// ShellExecutor runs scripts through a shell interpreter.
type ShellExecutor struct {
	Shell string
	Env   []string
}

func (e ShellExecutor) Execute(ctx context.Context, script, dir string, out io.Writer) (int, error) {
	shell := e.Shell
	if shell == "" {
		shell = "bash"
	}
	c := exec.CommandContext(ctx, shell, script)
	c.Dir = dir
	c.Stdout = out
	c.Stderr = out
	if len(e.Env) > 0 {
		c.Env = e.Env
	}

	err := c.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
