package channel

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Barrier flushes the directory entry table of the working directory so a
// create, rename or remove is visible to the other side of a network
// filesystem before anything else is written. Filesystems that cannot sync
// a directory are treated as already durable.
func (c *Channel) Barrier() error {
	d, err := c.fs.Open(c.dir)
	if err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	defer func() {
		_ = d.Close()
	}()
	if err := d.Sync(); err != nil && !unsupportedSync(err) {
		return fmt.Errorf("barrier: %w", err)
	}
	return nil
}

func unsupportedSync(err error) bool {
	return errors.Is(err, syscall.EINVAL) ||
		errors.Is(err, syscall.ENOTSUP) ||
		errors.Is(err, os.ErrInvalid)
}
