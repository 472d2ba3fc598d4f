package appcache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provide-io/encap/pkg/archive"
)

func testLogger(t *testing.T) hclog.Logger {
	t.Helper()
	return hclog.New(&hclog.LoggerOptions{Name: "appcache_test", Level: hclog.Trace})
}

func writeCapsule(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	w, err := archive.NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Add(archive.MetadataEntry, []byte(`{"main":{"launcher":"encap"}}`), 0o600))
	for name, content := range entries {
		require.NoError(t, w.Add(name, []byte(content), 0o644))
	}
	require.NoError(t, w.Close())
}

func openCapsule(t *testing.T, path string) *archive.Reader {
	t.Helper()
	r, err := archive.Open(path, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestPathsLayout(t *testing.T) {
	p := NewPaths("/cache", "com.acme.app")
	assert.Equal(t, filepath.Join("/cache", "apps", "com.acme.app"), p.AppDir())
	assert.Equal(t, filepath.Join(p.AppDir(), ".lock"), p.LockFile())
	assert.Equal(t, filepath.Join(p.AppDir(), ".extracted"), p.MarkerFile())
	assert.Equal(t, filepath.Join("/cache", "deps"), p.DepsDir())
}

func TestEnsureExtractsAndFilters(t *testing.T) {
	dir := t.TempDir()
	capsule := filepath.Join(dir, "app.zip")
	writeCapsule(t, capsule, map[string]string{
		"foo.jar":             "payload",
		"Stray.class":         "compiled",
		"lib/a.jar":           "lib",
		"lib/inner.class":     "nested compiled files are payload",
		"encap/launcher.bin":  "launcher-own",
		"ENCAP/metadata.json": "private",
	})

	rdr := openCapsule(t, capsule)
	c := New(filepath.Join(dir, "cache"), false, "com.acme.app", testLogger(t))
	defer c.Close()

	require.NoError(t, c.Ensure(context.Background(), rdr))
	assert.Equal(t, Rebuilding, c.State())

	assert.FileExists(t, filepath.Join(c.Dir(), "foo.jar"))
	assert.FileExists(t, filepath.Join(c.Dir(), "lib", "a.jar"))
	assert.FileExists(t, filepath.Join(c.Dir(), "lib", "inner.class"))
	assert.NoFileExists(t, filepath.Join(c.Dir(), "Stray.class"))
	assert.NoDirExists(t, filepath.Join(c.Dir(), "encap"))
	assert.NoDirExists(t, filepath.Join(c.Dir(), "ENCAP"))

	// no marker until launch preparation commits
	assert.NoFileExists(t, c.paths.MarkerFile())
	require.NoError(t, c.Commit())
	assert.Equal(t, Ready, c.State())
	assert.FileExists(t, c.paths.MarkerFile())
}

func TestEnsureFreshSkipsExtraction(t *testing.T) {
	dir := t.TempDir()
	capsule := filepath.Join(dir, "app.zip")
	writeCapsule(t, capsule, map[string]string{"foo.jar": "payload"})

	root := filepath.Join(dir, "cache")
	c := New(root, false, "com.acme.app", testLogger(t))
	require.NoError(t, c.Ensure(context.Background(), openCapsule(t, capsule)))
	require.NoError(t, c.Commit())
	c.Close()

	// a second launch sees the marker and stays on the fast path
	c2 := New(root, false, "com.acme.app", testLogger(t))
	defer c2.Close()
	require.NoError(t, c2.Ensure(context.Background(), openCapsule(t, capsule)))
	assert.Equal(t, Fresh, c2.State())

	require.NoError(t, c2.Commit())
	assert.Equal(t, Ready, c2.State())
}

func TestStalenessFlipsOnArchiveTouch(t *testing.T) {
	dir := t.TempDir()
	capsule := filepath.Join(dir, "app.zip")
	writeCapsule(t, capsule, map[string]string{"foo.jar": "payload"})

	root := filepath.Join(dir, "cache")
	c := New(root, false, "com.acme.app", testLogger(t))
	defer c.Close()
	require.NoError(t, c.Ensure(context.Background(), openCapsule(t, capsule)))
	require.NoError(t, c.Commit())

	rdr := openCapsule(t, capsule)
	assert.True(t, c.IsUpToDate(rdr.ModTime()))

	// touching the source archive past the marker makes it stale
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(capsule, future, future))
	assert.False(t, c.IsUpToDate(future))
}

func TestCommitWithoutExtraction(t *testing.T) {
	c := New(t.TempDir(), false, "com.acme.app", testLogger(t))
	defer c.Close()
	assert.ErrorIs(t, c.Commit(), ErrNotRebuilding)
}

func TestWipePreservesLockFile(t *testing.T) {
	dir := t.TempDir()
	capsule := filepath.Join(dir, "app.zip")
	writeCapsule(t, capsule, map[string]string{"foo.jar": "v1"})

	root := filepath.Join(dir, "cache")
	c := New(root, false, "com.acme.app", testLogger(t))
	defer c.Close()
	require.NoError(t, c.Ensure(context.Background(), openCapsule(t, capsule)))
	require.NoError(t, c.Commit())
	c.Close()

	// leftover junk from a previous launch
	require.NoError(t, os.WriteFile(filepath.Join(c.Dir(), "stale.tmp"), []byte("x"), 0o644))

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(capsule, future, future))

	c2 := New(root, false, "com.acme.app", testLogger(t))
	defer c2.Close()
	require.NoError(t, c2.Ensure(context.Background(), openCapsule(t, capsule)))

	assert.NoFileExists(t, filepath.Join(c2.Dir(), "stale.tmp"))
	assert.FileExists(t, filepath.Join(c2.Dir(), "foo.jar"))
	assert.FileExists(t, c2.paths.LockFile(), "wipe keeps the lock file")
}

func TestMutualExclusion(t *testing.T) {
	dir := t.TempDir()
	capsule := filepath.Join(dir, "app.zip")
	writeCapsule(t, capsule, map[string]string{"foo.jar": "payload"})

	root := filepath.Join(dir, "cache")

	first := New(root, false, "com.acme.app", testLogger(t))
	require.NoError(t, first.Ensure(context.Background(), openCapsule(t, capsule)))
	require.Equal(t, Rebuilding, first.State())

	// a second launcher blocks on the lock, then observes freshness
	var second *Cache
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		second = New(root, false, "com.acme.app", testLogger(t))
		if err := second.Ensure(context.Background(), openCapsule(t, capsule)); err != nil {
			t.Error(err)
		}
	}()

	// let the second attempt reach the lock before releasing it
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, first.Commit())
	first.Close()

	wg.Wait()
	defer second.Close()
	assert.Equal(t, Fresh, second.State(), "second attempt sees the first's work, no second wipe")
}

func TestTempFallbackDeletedOnClose(t *testing.T) {
	dir := t.TempDir()
	capsule := filepath.Join(dir, "app.zip")
	writeCapsule(t, capsule, map[string]string{"foo.jar": "payload"})

	root := filepath.Join(dir, "tmp-cache")
	require.NoError(t, os.MkdirAll(root, 0o700))

	c := New(root, true, "com.acme.app", testLogger(t))
	require.NoError(t, c.Ensure(context.Background(), openCapsule(t, capsule)))
	require.NoError(t, c.Commit())

	c.Close()
	assert.NoDirExists(t, root)
	c.Close() // idempotent
}

func TestCacheRootOverride(t *testing.T) {
	override := t.TempDir()
	t.Setenv("ENCAP_CACHE_DIR", override)

	root, temporary := CacheRoot(testLogger(t))
	assert.Equal(t, override, root)
	assert.False(t, temporary)
}

func TestSkipEntry(t *testing.T) {
	assert.True(t, skipEntry("ENCAP/manifest.json"))
	assert.True(t, skipEntry("encap/launcher"))
	assert.True(t, skipEntry("Stray.class"))
	assert.True(t, skipEntry("module.o"))
	assert.False(t, skipEntry("foo.jar"))
	assert.False(t, skipEntry("lib/inner.class"))
	assert.False(t, skipEntry("data/records.json"))
}
