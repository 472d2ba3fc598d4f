// Package appcache manages the per-application extraction cache: the
// on-disk layout, the staleness check against the source archive, and
// the cross-process double-checked locking protocol around
// re-extraction.
package appcache

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
)

const (
	appsDirName    = "apps"
	depsDirName    = "deps"
	lockFileName   = ".lock"
	markerFileName = ".extracted"

	// DefaultCacheName is the cache namespace under the platform
	// cache home, overridable with ENCAP_CACHE_NAME.
	DefaultCacheName = "encap"

	dirPerms = 0o700
)

// Paths centralizes the cache layout for one application id.
type Paths struct {
	root  string
	appID string
}

// NewPaths creates the path set rooted at root for appID.
func NewPaths(root, appID string) Paths {
	return Paths{root: root, appID: appID}
}

// Root returns the cache root directory.
func (p Paths) Root() string { return p.root }

// AppDir returns the application's extraction directory.
func (p Paths) AppDir() string { return filepath.Join(p.root, appsDirName, p.appID) }

// LockFile returns the extraction lock file path.
func (p Paths) LockFile() string { return filepath.Join(p.AppDir(), lockFileName) }

// MarkerFile returns the timestamp marker path written on successful
// preparation.
func (p Paths) MarkerFile() string { return filepath.Join(p.AppDir(), markerFileName) }

// DepsDir returns the directory reserved for the dependency backend's
// local store.
func (p Paths) DepsDir() string { return filepath.Join(p.root, depsDirName) }

// CacheRoot resolves the cache root directory: ENCAP_CACHE_DIR when
// set, else the platform cache home under the cache namespace. When
// the resolved root cannot be created or written, it falls back to a
// process-private temporary directory; the caller must delete that
// directory at lifecycle end.
func CacheRoot(logger hclog.Logger) (root string, temporary bool) {
	if dir := os.Getenv("ENCAP_CACHE_DIR"); dir != "" {
		if writable(dir) {
			logger.Debug("🗂️ Using cache root override", "root", dir)
			return dir, false
		}
		logger.Debug("Cache root override not writable", "root", dir)
	} else {
		name := os.Getenv("ENCAP_CACHE_NAME")
		if name == "" {
			name = DefaultCacheName
		}
		if home, err := os.UserCacheDir(); err == nil {
			dir := filepath.Join(home, name)
			if writable(dir) {
				logger.Debug("🗂️ Using platform cache root", "root", dir)
				return dir, false
			}
			logger.Debug("Platform cache home not writable", "root", dir)
		}
	}

	tmp, err := os.MkdirTemp("", "encap-cache-*")
	if err != nil {
		// last resort: the temp base itself, never deleted
		tmp = os.TempDir()
	}
	logger.Debug("🗂️ Falling back to process-private temp cache", "root", tmp)
	return tmp, true
}

// writable reports whether dir can be created and written to.
func writable(dir string) bool {
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return false
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return true
}
