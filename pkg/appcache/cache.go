package appcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/encap/pkg/archive"
)

var (
	// ErrInsufficientSpace is returned when the target filesystem
	// cannot hold the extracted payload.
	ErrInsufficientSpace = errors.New("insufficient disk space for extraction")

	// ErrNotRebuilding is returned when Commit is called without a
	// preceding extraction.
	ErrNotRebuilding = errors.New("cache is not in the rebuilding state")
)

// diskSpaceMultiplier pads the uncompressed payload size when
// preflighting free space.
const diskSpaceMultiplier = 2

// State is the cache lifecycle position for one application id.
type State int

const (
	Uninitialized State = iota
	Checking
	Fresh
	Rebuilding
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Checking:
		return "checking"
	case Fresh:
		return "fresh"
	case Rebuilding:
		return "rebuilding"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Cache manages one application's extraction directory. The zero
// state is Uninitialized; Ensure moves through Checking into Fresh or
// Rebuilding, Commit into Ready. Close releases the lock and deletes
// a temp-fallback root; it is the single cleanup path and safe to
// call more than once.
type Cache struct {
	paths     Paths
	temporary bool
	state     State
	lock      *cacheLock
	extracted bool
	logger    hclog.Logger
}

// New creates the cache handle for appID under root. temporary marks
// a process-private fallback root that Close must delete.
func New(root string, temporary bool, appID string, logger hclog.Logger) *Cache {
	return &Cache{
		paths:     NewPaths(root, appID),
		temporary: temporary,
		state:     Uninitialized,
		logger:    logger,
	}
}

// Dir returns the application's extraction directory.
func (c *Cache) Dir() string { return c.paths.AppDir() }

// DepsDir returns the dependency backend's local store directory.
func (c *Cache) DepsDir() string { return c.paths.DepsDir() }

// State returns the current lifecycle state.
func (c *Cache) State() State { return c.state }

// IsUpToDate reports whether the extraction marker exists and is
// newer than the source archive. Runs unlocked; Ensure re-checks
// under the lock.
func (c *Cache) IsUpToDate(archiveModTime time.Time) bool {
	info, err := os.Stat(c.paths.MarkerFile())
	if err != nil {
		return false
	}
	return info.ModTime().After(archiveModTime)
}

// Ensure makes the extraction directory current. Double-checked: the
// fast path probes staleness unlocked; only a stale cache takes the
// lock, re-checks, and wipes and re-extracts. After a rebuild the
// lock stays held until Close, so the marker write in Commit is
// covered by it.
func (c *Cache) Ensure(ctx context.Context, rdr *archive.Reader) error {
	c.state = Checking

	if c.IsUpToDate(rdr.ModTime()) {
		c.logger.Debug("✅ Cache is up to date", "dir", c.Dir())
		c.state = Fresh
		return nil
	}

	if err := os.MkdirAll(c.Dir(), dirPerms); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", c.Dir(), err)
	}

	lock, err := acquireLock(c.paths.LockFile(), c.logger)
	if err != nil {
		return err
	}
	c.lock = lock

	// another process may have just finished extracting
	if c.IsUpToDate(rdr.ModTime()) {
		c.logger.Debug("✅ Cache became current while waiting for the lock", "dir", c.Dir())
		c.releaseLock()
		c.state = Fresh
		return nil
	}

	c.logger.Info("📦 Rebuilding application cache", "dir", c.Dir())
	c.state = Rebuilding

	if err := c.preflightDiskSpace(rdr); err != nil {
		return err
	}
	if err := c.wipe(); err != nil {
		return err
	}
	if err := c.extract(ctx, rdr); err != nil {
		return err
	}

	c.extracted = true
	return nil
}

// Commit writes the timestamp marker, moving the cache to Ready. Only
// a genuine extraction followed by successful launch preparation may
// commit.
func (c *Cache) Commit() error {
	if c.state == Fresh {
		c.state = Ready
		return nil
	}
	if c.state != Rebuilding || !c.extracted {
		return fmt.Errorf("%w: %s", ErrNotRebuilding, c.state)
	}

	f, err := os.Create(c.paths.MarkerFile())
	if err != nil {
		return fmt.Errorf("failed to write extraction marker: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		return err
	}

	c.logger.Debug("✅ Marked extraction complete", "marker", c.paths.MarkerFile())
	c.state = Ready
	return nil
}

// Close releases the lock and removes a temp-fallback cache root.
// Runs on every exit path, success or failure; an uncommitted rebuild
// simply leaves no marker, so the next launch re-extracts.
func (c *Cache) Close() {
	c.releaseLock()
	if c.temporary {
		c.logger.Debug("🧹 Removing temp-fallback cache", "root", c.paths.Root())
		if err := os.RemoveAll(c.paths.Root()); err != nil {
			c.logger.Debug("⚠️ Failed to remove temp cache", "error", err)
		}
		c.temporary = false
	}
}

func (c *Cache) releaseLock() {
	if c.lock != nil {
		c.lock.release(c.logger)
		c.lock = nil
	}
}

// preflightDiskSpace checks the target filesystem can hold the
// payload. An unanswerable check is logged, not fatal.
func (c *Cache) preflightDiskSpace(rdr *archive.Reader) error {
	var needed int64
	for _, e := range rdr.Entries() {
		needed += e.UncompressedSize() * diskSpaceMultiplier
	}

	available, err := availableDiskSpace(c.Dir())
	if err != nil {
		c.logger.Warn("⚠️ Could not check disk space", "error", err)
		return nil
	}

	c.logger.Debug("💾 Disk space preflight", "needed", needed, "available", available)
	if available < needed {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrInsufficientSpace, needed, available)
	}
	return nil
}

// wipe deletes everything in the extraction directory except the lock
// file itself.
func (c *Cache) wipe() error {
	entries, err := os.ReadDir(c.Dir())
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == lockFileName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.Dir(), entry.Name())); err != nil {
			return fmt.Errorf("failed to wipe cache entry %s: %w", entry.Name(), err)
		}
	}
	c.logger.Trace("🧹 Wiped cache contents", "dir", c.Dir())
	return nil
}

// extract copies every payload entry from the archive into the cache
// directory, skipping the launcher's namespaces and stray top-level
// compiled objects.
func (c *Cache) extract(ctx context.Context, rdr *archive.Reader) error {
	count := 0
	for _, e := range rdr.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if skipEntry(e.Name) {
			c.logger.Trace("Skipping non-payload entry", "entry", e.Name)
			continue
		}
		if _, err := rdr.ExtractEntry(e, c.Dir()); err != nil {
			return fmt.Errorf("failed to extract %s: %w", e.Name, err)
		}
		count++
	}
	c.logger.Debug("📦 Extracted payload", "entries", count, "dir", c.Dir())
	return nil
}

// skipEntry reports whether an archive entry is not application
// payload: the metadata record and private namespace, the launcher's
// own namespace, and compiled objects sitting at the archive root.
func skipEntry(name string) bool {
	if strings.HasPrefix(name, archive.PrivateNamespace) || strings.HasPrefix(name, archive.LauncherNamespace) {
		return true
	}
	if !strings.Contains(name, "/") {
		switch filepath.Ext(name) {
		case ".class", ".o":
			return true
		}
	}
	return false
}
