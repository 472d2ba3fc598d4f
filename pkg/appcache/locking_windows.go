//go:build windows

package appcache

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// lockWaitTimeout bounds how long an acquirer waits for another
// process's extraction before giving up.
const lockWaitTimeout = 2 * time.Minute

// cacheLock is an exclusive lock on the extraction window, held as an
// O_EXCL-created file carrying the holder's PID. Unlike a flock it
// survives the holder's death, so acquirers check for stale holders.
type cacheLock struct {
	path string
	held bool
}

// acquireLock waits until the exclusive lock on path is held,
// removing lock files left behind by dead processes.
func acquireLock(path string, logger hclog.Logger) (*cacheLock, error) {
	deadline := time.Now().Add(lockWaitTimeout)
	for {
		removeIfStale(path, logger)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			logger.Debug("🔒 Acquired extraction lock", "path", path, "pid", os.Getpid())
			return &cacheLock{path: path, held: true}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file %s: %w", path, err)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for extraction lock %s", path)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// removeIfStale deletes the lock file when its holder is no longer
// running or its contents are unreadable.
func removeIfStale(path string, logger hclog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		logger.Debug("🧹 Removing lock file with unreadable PID", "path", path)
		os.Remove(path)
		return
	}
	if !processRunning(pid) {
		logger.Debug("🧹 Removing stale lock from dead process", "path", path, "pid", pid)
		os.Remove(path)
	}
}

// processRunning reports whether a process with the given PID exists.
func processRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	process.Release()
	return true
}

// release drops the lock by removing the lock file.
func (l *cacheLock) release(logger hclog.Logger) {
	if !l.held {
		return
	}
	if err := os.Remove(l.path); err != nil {
		logger.Debug("⚠️ Failed to remove lock file", "error", err)
	}
	l.held = false
	logger.Debug("🔓 Released extraction lock")
}
