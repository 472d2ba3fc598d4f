//go:build !windows

package appcache

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"
)

// cacheLock is an exclusive advisory lock on the extraction window.
// flock locks die with the process, so a crashed extractor never
// leaves the cache wedged.
type cacheLock struct {
	f *os.File
}

// acquireLock blocks until the exclusive lock on path is held.
func acquireLock(path string, logger hclog.Logger) (*cacheLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	logger.Debug("🔒 Acquiring extraction lock", "path", path)
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	// PID is diagnostic only, the flock is the lock
	f.Truncate(0)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Sync()

	logger.Debug("🔒 Acquired extraction lock", "path", path, "pid", os.Getpid())
	return &cacheLock{f: f}, nil
}

// release drops the lock. The lock file stays behind; the next
// acquirer reuses it.
func (l *cacheLock) release(logger hclog.Logger) {
	if l.f == nil {
		return
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		logger.Debug("⚠️ Failed to unlock", "error", err)
	}
	l.f.Close()
	l.f = nil
	logger.Debug("🔓 Released extraction lock")
}
