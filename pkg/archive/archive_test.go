package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) hclog.Logger {
	t.Helper()
	return hclog.New(&hclog.LoggerOptions{
		Name:  "archive_test",
		Level: hclog.Trace,
	})
}

func writeCapsule(t *testing.T, path string, record string, entries map[string]string) {
	t.Helper()
	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Add(MetadataEntry, []byte(record), 0o600))
	for name, content := range entries {
		require.NoError(t, w.Add(name, []byte(content), 0o644))
	}
	require.NoError(t, w.Close())
}

func TestOpenAndManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.cap")
	writeCapsule(t, path, `{"main": {"launcher": "encap", "application-id": "com.acme.foo"}}`,
		map[string]string{"foo.jar": "payload", "lib/a.jar": "lib"})

	r, err := Open(path, testLogger(t))
	require.NoError(t, err)
	defer r.Close()

	doc, err := r.Manifest()
	require.NoError(t, err)
	assert.Equal(t, "com.acme.foo", doc.Main()["application-id"])
	assert.Len(t, r.Entries(), 3)

	_, ok := r.Entry("foo.jar")
	assert.True(t, ok)
	assert.False(t, r.ModTime().IsZero())
}

func TestManifestMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bare.cap")
	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Add("data.txt", []byte("x"), 0o644))
	require.NoError(t, w.Close())

	r, err := Open(path, testLogger(t))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Manifest()
	assert.ErrorIs(t, err, ErrNoMetadata)
}

func TestExtractEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.cap")
	writeCapsule(t, path, `{"main": {"launcher": "encap"}}`,
		map[string]string{"lib/a.jar": "lib contents"})

	r, err := Open(path, testLogger(t))
	require.NoError(t, err)
	defer r.Close()

	dest := t.TempDir()
	e, ok := r.Entry("lib/a.jar")
	require.True(t, ok)

	out, err := r.ExtractEntry(e, dest)
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "lib contents", string(data))
}

func TestExtractEntryRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evil.cap")
	writeCapsule(t, path, `{"main": {"launcher": "encap"}}`,
		map[string]string{"../escape.txt": "evil"})

	r, err := Open(path, testLogger(t))
	require.NoError(t, err)
	defer r.Close()

	e, ok := r.Entry("../escape.txt")
	require.True(t, ok)

	_, err = r.ExtractEntry(e, t.TempDir())
	assert.ErrorIs(t, err, ErrEntryEscapes)
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	wrapperPath := filepath.Join(dir, "wrapper.cap")
	wrappedPath := filepath.Join(dir, "wrapped.cap")
	outPath := filepath.Join(dir, "merged.cap")

	writeCapsule(t, wrapperPath,
		`{"main": {"launcher": "encap", "caplets": "shade"}}`,
		map[string]string{"encap/impl.bin": "launcher", "shared.txt": "wrapper"})
	writeCapsule(t, wrappedPath,
		`{"main": {"launcher": "encap", "caplets": "timestamp", "entry-point": "com.acme.Foo"}}`,
		map[string]string{"foo.jar": "payload", "shared.txt": "wrapped"})

	require.NoError(t, Merge(wrapperPath, wrappedPath, outPath, testLogger(t)))

	r, err := Open(outPath, testLogger(t))
	require.NoError(t, err)
	defer r.Close()

	doc, err := r.Manifest()
	require.NoError(t, err)
	assert.Equal(t, "com.acme.Foo", doc.Main()["entry-point"])
	assert.Equal(t, "shade timestamp", doc.Main()["caplets"])

	// wrapped payload wins on conflicts
	e, ok := r.Entry("shared.txt")
	require.True(t, ok)
	rc, err := e.Open()
	require.NoError(t, err)
	defer rc.Close()
	buf := make([]byte, 16)
	n, _ := rc.Read(buf)
	assert.Equal(t, "wrapped", string(buf[:n]))

	_, ok = r.Entry("foo.jar")
	assert.True(t, ok)
	_, ok = r.Entry("encap/impl.bin")
	assert.True(t, ok)
}

func TestEmbeddedClasspath(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "foo.jar")
	writeCapsule(t, artifact,
		`{"main": {"app-class-path": "lib/x.jar lib/y.jar", "entry-point": "com.acme.Foo"}}`,
		nil)

	assert.Equal(t, []string{"lib/x.jar", "lib/y.jar"}, EmbeddedClasspath(artifact, testLogger(t)))
	assert.Equal(t, "com.acme.Foo", EmbeddedEntryPoint(artifact, testLogger(t)))

	plain := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(plain, []byte("not a zip"), 0o644))
	assert.Nil(t, EmbeddedClasspath(plain, testLogger(t)))
}
