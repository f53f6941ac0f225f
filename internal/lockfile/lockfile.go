// Package lockfile guards an AlienChat state directory against a second server process.
//
// On Unix the lock is an flock on a file inside the directory, so the kernel releases it
// when the holder exits, cleanly or not. The file itself is left in place. Elsewhere the
// lock is the exclusive creation of that file, and a file left by a dead process is
// reclaimed.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileName is the lock file created in the state directory.
const FileName = "alienchat.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive, non-blocking lock on dir, creating the directory if needed.
// When another process holds it, the returned error is a *HeldError.
func Acquire(dir string) (*Lock, error) {
	path := filepath.Join(dir, FileName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	f, held, err := lockFile(path)
	if held {
		herr := &HeldError{Path: path, Holder: describeHolder(path), Cause: err}
		slog.Error("lockfile.Acquire: state directory is locked", "path", path, "holder", herr.Holder)
		return nil, herr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	// Truncate only once the lock is ours so a failed attempt leaves the holder's pid intact.
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f, path)
		return nil, fmt.Errorf("failed to truncate lock file %s: %w", path, err)
	}
	if _, err := f.WriteString("pid=" + strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		_ = unlockFile(f, path)
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.Acquire: sync failed", "path", path, "error", err)
	}

	slog.Info("lockfile.Acquire: state directory locked", "path", path, "pid", os.Getpid())
	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and clears the recorded pid. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := l.file.Truncate(0); err != nil {
		slog.Warn("lockfile.Release: failed to clear lock file", "path", l.path, "error", err)
	}
	err := unlockFile(l.file, l.path)
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	slog.Debug("lockfile.Release: state directory unlocked", "path", l.path)
	return nil
}

// HeldError reports that another process holds the state directory lock.
type HeldError struct {
	Path   string
	Holder string
	Cause  error
}

func (e *HeldError) Error() string {
	var b strings.Builder
	b.WriteString("another AlienChat server is using this state directory (lock file ")
	b.WriteString(e.Path)
	b.WriteString(")")
	if e.Holder != "" {
		b.WriteString(": ")
		b.WriteString(e.Holder)
	}
	b.WriteString("; remove the lock file only if no other server is running")
	return b.String()
}

func (e *HeldError) Unwrap() error {
	return e.Cause
}

// describeHolder reads the pid recorded in the lock file and reports whether it is alive.
func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	pid := parsePID(string(data))
	if pid <= 0 {
		return ""
	}
	if processAlive(pid) {
		return fmt.Sprintf("pid %d (running)", pid)
	}
	return fmt.Sprintf("pid %d (not running)", pid)
}

func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !ok {
			continue
		}
		if pid, err := strconv.Atoi(v); err == nil {
			return pid
		}
	}
	return 0
}
