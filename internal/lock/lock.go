// Package lock provides the flock-based run lock that keeps two proctors
// from driving the same tool's artifacts directory at once.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// RunLock is an advisory file lock on an artifacts directory. The holder's
// PID is written into the lock file for diagnostics.
type RunLock struct {
	path string
	file *os.File
}

// ForDir returns the run lock guarding dir.
func ForDir(dir string) *RunLock {
	return &RunLock{path: filepath.Join(dir, ".toolproctor.lock")}
}

// TryLock acquires the lock without blocking. It fails when another
// proctor already owns the directory.
func (l *RunLock) TryLock() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("artifacts dir busy (another run in progress?): %w", err)
	}

	if err := f.Truncate(0); err == nil {
		if _, err := f.Seek(0, 0); err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Sync()
		}
	}

	l.file = f
	return nil
}

// Unlock releases the lock and removes the lock file. Safe to call when
// the lock was never acquired.
func (l *RunLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("release lock: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	os.Remove(l.path)
	l.file = nil
	return nil
}

// Path returns the lock file location.
func (l *RunLock) Path() string { return l.path }
