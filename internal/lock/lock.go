// Package lock implements the single-instance advisory file lock spec.md §6
// and §8 scenario 1 describe: the host process takes a lock at a
// well-known path; a second launch observes it, reads the owner's metadata,
// and exits. This package sends no signal to the primary. No retrieved repo in
// the pack offers an OS advisory-lock primitive (this is a thin wrapper
// over the kernel's flock(2)), so this package is stdlib-by-necessity,
// documented in DESIGN.md alongside the IPC socket transport.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// OwnerInfo identifies the process currently holding the lock, written into
// the lock file's body the moment it is acquired.
type OwnerInfo struct {
	PID  int    `json:"pid"`
	Host string `json:"host"`
	App  string `json:"app"`
}

// Lock is a file-based advisory lock at a fixed path.
type Lock struct {
	path string
	app  string
	file *os.File
}

// New returns a Lock bound to path; it does not touch the filesystem until
// TryLock is called.
func New(path, app string) *Lock {
	return &Lock{path: path, app: app}
}

// TryLock attempts to acquire the lock, retrying at a fixed short interval
// until timeout elapses. timeout=0 makes exactly one attempt, matching the
// "tryLock(0)" calls in spec.md §8 scenario 1.
func (l *Lock) TryLock(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := l.tryOnce()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (l *Lock) tryOnce() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("lock: open %s: %w", l.path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return false, nil
		}
		return false, fmt.Errorf("lock: flock %s: %w", l.path, err)
	}

	host, _ := os.Hostname()
	info := OwnerInfo{PID: os.Getpid(), Host: host, App: l.app}
	data, err := json.Marshal(info)
	if err != nil {
		_ = f.Close()
		return false, fmt.Errorf("lock: encode owner info: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("lock: truncate %s: %w", l.path, err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("lock: write owner info: %w", err)
	}
	_ = f.Sync()

	l.file = f
	return true, nil
}

// Unlock releases the lock and closes the underlying file descriptor. Safe
// to call on a Lock that never successfully acquired.
func (l *Lock) Unlock() error {
	if l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("lock: unlock %s: %w", l.path, err)
	}
	return closeErr
}

// GetLockInfo reads the owner metadata a prior holder (or the current one)
// wrote into the lock file, for a second launch to learn who holds it.
func GetLockInfo(path string) (OwnerInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return OwnerInfo{}, fmt.Errorf("lock: read %s: %w", path, err)
	}
	var info OwnerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return OwnerInfo{}, fmt.Errorf("lock: decode owner info: %w", err)
	}
	return info, nil
}
