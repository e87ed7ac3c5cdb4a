// Package channel implements the file protocol shared by the host driver
// and the worker running inside the allocation. Both sides only ever see
// the working directory: a step request is a script file, its
// acknowledgment is a copy of that file with a ".executed" suffix, and the
// exit signal is any file ending in ".gitlab_ci_exit".
package channel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	StepSuffix     = ".gitlab_ci_step_script"
	ExecutedSuffix = StepSuffix + ".executed"
	LogSuffix      = StepSuffix + ".log"
	FailedSuffix   = StepSuffix + ".failed"
	ExitSuffix     = ".gitlab_ci_exit"

	// ExitFileName is the exit signal written by the host.
	ExitFileName = "batch" + ExitSuffix
)

var (
	ErrStepPending = errors.New("a step request is already pending")
	ErrInvalidName = errors.New("invalid step name")
)

// Status is the host view of a published step.
type Status int

const (
	StatusMissing Status = iota
	StatusPending
	StatusExecuted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusExecuted:
		return "executed"
	case StatusFailed:
		return "failed"
	default:
		return "missing"
	}
}

// Channel is one working directory on a filesystem shared by both sides.
type Channel struct {
	fs  afero.Fs
	dir string
}

func New(fs afero.Fs, dir string) *Channel {
	return &Channel{fs: fs, dir: dir}
}

func (c *Channel) Dir() string { return c.dir }

func (c *Channel) Fs() afero.Fs { return c.fs }

func (c *Channel) StepPath(name string) string     { return filepath.Join(c.dir, name+StepSuffix) }
func (c *Channel) ExecutedPath(name string) string { return filepath.Join(c.dir, name+ExecutedSuffix) }
func (c *Channel) LogPath(name string) string      { return filepath.Join(c.dir, name+LogSuffix) }
func (c *Channel) FailedPath(name string) string   { return filepath.Join(c.dir, name+FailedSuffix) }
func (c *Channel) ExitPath() string                { return filepath.Join(c.dir, ExitFileName) }

// Exists reports whether the working directory is present.
func (c *Channel) Exists() (bool, error) {
	return afero.DirExists(c.fs, c.dir)
}

// Publish writes the step request atomically. It refuses while another
// request is still unconsumed. Leftovers of an earlier attempt of the same
// step are removed first so they cannot be mistaken for its outcome.
func (c *Channel) Publish(name string, script []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	pending, err := c.PendingSteps()
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %s", ErrStepPending, pending[0])
	}
	for _, p := range []string{c.ExecutedPath(name), c.FailedPath(name), c.LogPath(name)} {
		if err := c.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale %s: %w", p, err)
		}
	}
	if err := c.writeAtomic(c.StepPath(name), script, 0o755); err != nil {
		return fmt.Errorf("failed to publish step %s: %w", name, err)
	}
	return nil
}

// Status refreshes the directory listing and reports the step outcome.
// The exit status is only meaningful for StatusFailed.
func (c *Channel) Status(name string) (Status, int, error) {
	if _, err := afero.ReadDir(c.fs, c.dir); err != nil {
		return StatusMissing, 0, fmt.Errorf("failed to list %s: %w", c.dir, err)
	}
	if ok, err := afero.Exists(c.fs, c.ExecutedPath(name)); err != nil {
		return StatusMissing, 0, err
	} else if ok {
		return StatusExecuted, 0, nil
	}
	if ok, err := afero.Exists(c.fs, c.FailedPath(name)); err != nil {
		return StatusMissing, 0, err
	} else if ok {
		code, err := c.readExitCode(name)
		return StatusFailed, code, err
	}
	if ok, err := afero.Exists(c.fs, c.StepPath(name)); err != nil {
		return StatusMissing, 0, err
	} else if ok {
		return StatusPending, 0, nil
	}
	return StatusMissing, 0, nil
}

// RaiseExit writes the exit signal.
func (c *Channel) RaiseExit() error {
	if err := c.writeAtomic(c.ExitPath(), nil, 0o644); err != nil {
		return fmt.Errorf("failed to raise exit signal: %w", err)
	}
	return nil
}

// ExitRequested reports whether any exit signal is present.
func (c *Channel) ExitRequested() (bool, error) {
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return false, fmt.Errorf("failed to list %s: %w", c.dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ExitSuffix) && !isTemp(e.Name()) {
			return true, nil
		}
	}
	return false, nil
}

// PendingSteps returns the names of unconsumed step requests, sorted.
func (c *Channel) PendingSteps() ([]string, error) {
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c.dir, err)
	}
	failed := map[string]bool{}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || isTemp(n) {
			continue
		}
		switch {
		case strings.HasSuffix(n, StepSuffix):
			names = append(names, strings.TrimSuffix(n, StepSuffix))
		case strings.HasSuffix(n, FailedSuffix):
			failed[strings.TrimSuffix(n, FailedSuffix)] = true
		}
	}
	// A failed request stays on disk but is no longer waiting for anyone.
	out := names[:0]
	for _, n := range names {
		if !failed[n] {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *Channel) ReadStep(name string) ([]byte, error) {
	return afero.ReadFile(c.fs, c.StepPath(name))
}

// CreateLog truncates and opens the step log for writing.
func (c *Channel) CreateLog(name string) (afero.File, error) {
	return c.fs.OpenFile(c.LogPath(name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
}

// Acknowledge marks the step executed: the request is copied to its
// ".executed" name, then removed.
func (c *Channel) Acknowledge(name string) error {
	data, err := c.ReadStep(name)
	if err != nil {
		return fmt.Errorf("failed to read step %s: %w", name, err)
	}
	if err := c.writeAtomic(c.ExecutedPath(name), data, 0o755); err != nil {
		return fmt.Errorf("failed to acknowledge step %s: %w", name, err)
	}
	if err := c.fs.Remove(c.StepPath(name)); err != nil {
		return fmt.Errorf("failed to remove step %s: %w", name, err)
	}
	return c.Barrier()
}

// MarkFailed records the exit status of a step that did not succeed. The
// request itself is kept.
func (c *Channel) MarkFailed(name string, code int) error {
	if err := c.writeAtomic(c.FailedPath(name), []byte(strconv.Itoa(code)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to mark step %s failed: %w", name, err)
	}
	return nil
}

func (c *Channel) readExitCode(name string) (int, error) {
	data, err := afero.ReadFile(c.fs, c.FailedPath(name))
	if err != nil {
		return 0, err
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed failure marker for %s: %w", name, err)
	}
	return code, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

const tempSuffix = ".tmp"

func isTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, tempSuffix)
}

func (c *Channel) writeAtomic(path string, data []byte, perm os.FileMode) error {
	if err := WriteFile(c.fs, path, data, perm); err != nil {
		return err
	}
	return c.Barrier()
}

// WriteFile writes data under a hidden temporary name, flushes it and
// renames it into place, so readers see either nothing or the full content.
func WriteFile(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir, base := filepath.Split(path)
	tmp := filepath.Join(dir, "."+base+"."+uuid.NewString()+tempSuffix)

	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return nil
}
