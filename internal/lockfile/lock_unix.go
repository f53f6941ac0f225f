//go:build unix

package lockfile

import (
	"os"
	"syscall"
)

// lockFile opens path and takes a non-blocking exclusive flock on it. held reports that
// another open file holds the lock.
func lockFile(path string) (f *os.File, held bool, err error) {
	f, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, true, err
	}
	return f, false, nil
}

// unlockFile drops the flock. The file stays so that a waiting process never locks an
// unlinked inode.
func unlockFile(f *os.File, _ string) error {
	unlockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	closeErr := f.Close()
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
