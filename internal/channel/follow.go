package channel

import (
	"errors"
	"io"
	"os"
)

// LogFollower copies bytes appended to a step log since the last call.
type LogFollower struct {
	ch     *Channel
	name   string
	offset int64
}

func (c *Channel) Follow(name string) *LogFollower {
	return &LogFollower{ch: c, name: name}
}

// Drain writes everything appended since the previous Drain to w. A log
// that does not exist yet drains nothing.
func (f *LogFollower) Drain(w io.Writer) (int64, error) {
	file, err := f.ch.fs.Open(f.ch.LogPath(f.name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer func() {
		_ = file.Close()
	}()
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.Copy(w, file)
	f.offset += n
	return n, err
}

func (f *LogFollower) Offset() int64 { return f.offset }
