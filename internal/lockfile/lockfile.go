// Package lockfile provides the run-level lock that keeps two ListingPipe
// runs from working on the same state directory at once.
//
// The lock is a flock(2) on a file in the state directory. The kernel drops
// it when the process exits, gracefully or not, so a crashed run never
// leaves a lock that blocks the next one.
package lockfile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "listingpipe.lock"

// Lock represents a held run lock
type Lock struct {
	file     *os.File
	path     string
	acquired bool
}

// AcquireLock attempts to take the run lock without blocking. If another run
// holds it, the returned error is a *LockError describing the holder.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)

	slog.Debug("AcquireLock: attempting", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// No O_TRUNC: the holder's pid must survive a failed attempt.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockInfo := readExistingLockInfo(lockPath)
		slog.Info("AcquireLock: another ListingPipe run holds the lock", "lock_path", lockPath, "holder", lockInfo)
		return nil, &LockError{
			LockPath:     lockPath,
			ExistingInfo: lockInfo,
			Cause:        err,
		}
	}

	info := fmt.Sprintf("pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Debug("AcquireLock: acquired", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath, acquired: true}, nil
}

func writeInfo(f *os.File, info string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := f.WriteString(info); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("AcquireLock: failed to sync lock file", "error", err)
	}
	return nil
}

// Release drops the lock. The file itself is kept, only emptied: removing a
// locked path lets a concurrent acquirer lock an unlinked inode.
// Safe to call multiple times.
func (l *Lock) Release() error {
	if l == nil || !l.acquired || l.file == nil {
		return nil
	}

	if err := l.file.Truncate(0); err != nil {
		slog.Warn("Lock.Release: failed to clear lock file", "error", err, "lock_path", l.path)
	}
	var errs []error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock %s: %w", l.path, err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", l.path, err))
	}

	l.acquired = false
	l.file = nil
	slog.Debug("Lock.Release: released", "lock_path", l.path)
	return errors.Join(errs...)
}

// LockError is returned when another run holds the lock.
type LockError struct {
	LockPath     string
	ExistingInfo string
	Cause        error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another ListingPipe run is using this state directory (lock file: %s", e.LockPath)
	if e.ExistingInfo != "" {
		msg += ", holder: " + e.ExistingInfo
	}
	return msg + ")"
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// IsContention reports whether err means the lock is held by another run.
func IsContention(err error) bool {
	var le *LockError
	return errors.As(err, &le)
}

// readExistingLockInfo describes the current holder for log and error messages.
func readExistingLockInfo(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file information"
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return "no process information"
	}

	if pid := extractPIDFromLockInfo(content); pid > 0 {
		if isProcessRunning(pid) {
			return fmt.Sprintf("PID %d (running)", pid)
		}
		return fmt.Sprintf("PID %d (not running)", pid)
	}

	return content
}

// extractPIDFromLockInfo returns the pid from a "pid=NNNN" line, or 0.
func extractPIDFromLockInfo(content string) int {
	const pidPrefix = "pid="
	if idx := strings.Index(content, pidPrefix); idx != -1 {
		start := idx + len(pidPrefix)
		end := start
		for end < len(content) && content[end] >= '0' && content[end] <= '9' {
			end++
		}
		if end > start {
			if pid, err := strconv.Atoi(content[start:end]); err == nil {
				return pid
			}
		}
	}
	return 0
}

// isProcessRunning sends signal 0 to pid.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
