package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockAcquisition(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	lockPath := filepath.Join(tempDir, LockFileName)
	content, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	if !strings.HasPrefix(string(content), fmt.Sprintf("pid=%d\n", os.Getpid())) {
		t.Errorf("Lock file should start with our pid, got %q", string(content))
	}
}

func TestLockConflict(t *testing.T) {
	tempDir := t.TempDir()

	lock1, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(tempDir)
	if err == nil {
		lock2.Release()
		t.Fatalf("Second lock acquisition should have failed")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) || !IsContention(err) {
		t.Errorf("Expected LockError, got: %T", err)
	}
	if !strings.Contains(err.Error(), tempDir) {
		t.Errorf("Error message should contain the lock path: %s", err)
	}
	if !strings.Contains(lockErr.ExistingInfo, "running") {
		t.Errorf("Holder info should describe our pid: %q", lockErr.ExistingInfo)
	}

	// A failed attempt must not wipe the holder's information.
	content, _ := os.ReadFile(filepath.Join(tempDir, LockFileName))
	if !strings.Contains(string(content), fmt.Sprintf("pid=%d", os.Getpid())) {
		t.Errorf("Holder info lost after contention: %q", string(content))
	}
}

func TestLockRelease(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}

	info, err := os.Stat(filepath.Join(tempDir, LockFileName))
	if err != nil || info.Size() != 0 {
		t.Errorf("Lock file should remain and be empty after release: %v, %v", info, err)
	}

	if err := lock.Release(); err != nil {
		t.Errorf("Multiple releases should be safe: %v", err)
	}
}

func TestLockReacquisition(t *testing.T) {
	tempDir := t.TempDir()

	lock1, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	lock1.Release()

	lock2, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	defer lock2.Release()
}

func TestIsContention(t *testing.T) {
	if IsContention(nil) || IsContention(errors.New("other")) {
		t.Error("unrelated errors are not contention")
	}
	if !IsContention(fmt.Errorf("cycle: %w", &LockError{LockPath: "x"})) {
		t.Error("wrapped LockError should be contention")
	}
}

func TestExtractPIDFromLockInfo(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected int
	}{
		{"valid pid", "pid=12345\n", 12345},
		{"pid with extra content", "pid=67890\nstarted=2025-01-01T00:00:00Z", 67890},
		{"no pid", "other=info", 0},
		{"empty content", "", 0},
		{"invalid pid", "pid=abc", 0},
		{"no equals", "pid12345", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractPIDFromLockInfo(tt.content)
			if result != tt.expected {
				t.Errorf("extractPIDFromLockInfo(%q) = %d, want %d", tt.content, result, tt.expected)
			}
		})
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Errorf("Our own process should be detected as running")
	}
}

func TestNonExistentDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Should be able to create directory and acquire lock: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Errorf("Directory should have been created: %s", dir)
	}
}
