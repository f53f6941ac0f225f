//go:build !unix

package lockfile

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
)

// lockFile creates path exclusively. A file whose recorded pid is no longer running is
// removed and the creation retried once.
func lockFile(path string) (f *os.File, held bool, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			return f, false, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, false, err
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			break
		}
		pid := parsePID(string(data))
		if pid <= 0 || processAlive(pid) {
			break
		}
		slog.Warn("lockfile.Acquire: removing stale lock file", "path", path, "pid", pid)
		if rerr := os.Remove(path); rerr != nil {
			break
		}
	}
	return nil, true, err
}

// unlockFile closes and removes the lock file, which is the lock itself here.
func unlockFile(f *os.File, path string) error {
	closeErr := f.Close()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return closeErr
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
