package engine

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provide-io/encap/pkg/archive"
	"github.com/provide-io/encap/pkg/manifest"
)

func testLogger(t *testing.T) hclog.Logger {
	t.Helper()
	return hclog.New(&hclog.LoggerOptions{Name: "engine_test", Level: hclog.Trace})
}

func writeCapsule(t *testing.T, path, record string, entries map[string]string) {
	t.Helper()
	w, err := archive.NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Add(archive.MetadataEntry, []byte(record), 0o600))
	for name, content := range entries {
		require.NoError(t, w.Add(name, []byte(content), 0o644))
	}
	require.NoError(t, w.Close())
}

// seedRuntime fakes a runtime installation so selection never scans
// the host system.
func seedRuntime(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	bin := filepath.Join(home, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "java"), []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return home
}

func launchEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENCAP_CACHE_DIR", t.TempDir())
	t.Setenv("ENCAP_RUNTIME_HOME", seedRuntime(t))
	t.Setenv("ENCAP_CACHE", "")
	t.Setenv("ENCAP_MODE", "")
	t.Setenv("ENCAP_TARGET", "")
	t.Setenv("ENCAP_RUNTIME_ARGS", "")
}

func TestPrepareExtractsAndAssemblesClasspath(t *testing.T) {
	launchEnv(t)
	dir := t.TempDir()
	capsule := filepath.Join(dir, "app.zip")
	writeCapsule(t, capsule, `{"main":{"launcher":"encap","entry-point":"com.acme.Foo"}}`,
		map[string]string{
			"foo.jar":     "payload",
			"Stray.class": "compiled",
			"lib/a.jar":   "lib",
		})

	s, err := NewSession(capsule, nil, Options{Logger: testLogger(t)})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Prepare(context.Background()))
	plan := s.Plan()
	require.NotNil(t, plan)

	cacheDir := s.cache.Dir()
	assert.FileExists(t, filepath.Join(cacheDir, "foo.jar"))
	assert.FileExists(t, filepath.Join(cacheDir, "lib", "a.jar"))
	assert.NoFileExists(t, filepath.Join(cacheDir, "Stray.class"))
	assert.NoDirExists(t, filepath.Join(cacheDir, "ENCAP"))

	assert.Contains(t, plan.Classpath, capsule)
	assert.Contains(t, plan.Classpath, cacheDir)
	assert.Contains(t, plan.Classpath, filepath.Join(cacheDir, "foo.jar"))
	assert.NotContains(t, plan.Classpath, filepath.Join(cacheDir, "lib", "a.jar"),
		"nested archives join only when declared as extra paths")

	assert.Contains(t, plan.Args, "com.acme.Foo")
}

func TestEmptyShellBindsTarget(t *testing.T) {
	launchEnv(t)
	dir := t.TempDir()

	shell := filepath.Join(dir, "shell.zip")
	writeCapsule(t, shell, `{"main":{"launcher":"encap"}}`, nil)

	target := filepath.Join(dir, "target.zip")
	writeCapsule(t, target, `{"main":{"launcher":"encap","application-id":"com.acme.real","entry-point":"com.acme.Real"}}`,
		map[string]string{"real.jar": "payload"})

	s, err := NewSession(shell, []string{target, "--flag"}, Options{Logger: testLogger(t)})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "com.acme.real", s.appID)
	assert.Equal(t, target, s.archivePath)
	assert.Equal(t, []string{"--flag"}, s.appArgs)

	require.NoError(t, s.Prepare(context.Background()))
	assert.Contains(t, s.Plan().Classpath, target)
}

func TestEmptyShellWithoutTarget(t *testing.T) {
	launchEnv(t)
	shell := filepath.Join(t.TempDir(), "shell.zip")
	writeCapsule(t, shell, `{"main":{"launcher":"encap"}}`, nil)

	_, err := NewSession(shell, nil, Options{Logger: testLogger(t)})
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestIsEmptyShell(t *testing.T) {
	doc, err := manifest.Parse([]byte(`{"main":{"launcher":"encap"}}`))
	require.NoError(t, err)
	assert.True(t, isEmptyShell(doc))

	doc, err = manifest.Parse([]byte(`{"main":{"launcher":"encap"},"debug":{"entry-point":"com.acme.Dbg"}}`))
	require.NoError(t, err)
	assert.False(t, isEmptyShell(doc), "a mode-scoped entry point is runnable")
}

func TestRunRelaysScriptExitCode(t *testing.T) {
	launchEnv(t)
	dir := t.TempDir()
	capsule := filepath.Join(dir, "app.zip")
	writeCapsule(t, capsule, `{"main":{"launcher":"encap","script":"exit7.sh"}}`,
		map[string]string{"exit7.sh": "#!/bin/sh\nexit 7\n"})

	s, err := NewSession(capsule, nil, Options{Logger: testLogger(t)})
	require.NoError(t, err)

	require.NoError(t, s.Prepare(context.Background()))
	require.True(t, s.Plan().Script)

	code, err := s.Run()
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestRunTrampolinePrintsOnly(t *testing.T) {
	launchEnv(t)
	dir := t.TempDir()
	capsule := filepath.Join(dir, "app.zip")
	writeCapsule(t, capsule, `{"main":{"launcher":"encap","entry-point":"com.acme.Foo"}}`, nil)

	s, err := NewSession(capsule, nil, Options{Trampoline: true, Logger: testLogger(t)})
	require.NoError(t, err)

	require.NoError(t, s.Prepare(context.Background()))
	code, err := s.Run()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestRunBeforePrepare(t *testing.T) {
	launchEnv(t)
	capsule := filepath.Join(t.TempDir(), "app.zip")
	writeCapsule(t, capsule, `{"main":{"launcher":"encap","entry-point":"com.acme.Foo"}}`, nil)

	s, err := NewSession(capsule, nil, Options{Logger: testLogger(t)})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Run()
	assert.ErrorIs(t, err, ErrNotPrepared)
}

func TestSuppliedRuntimeArgsQuoting(t *testing.T) {
	launchEnv(t)
	t.Setenv("ENCAP_RUNTIME_ARGS", `-Dapp.title="My App" -Xmx1g`)
	capsule := filepath.Join(t.TempDir(), "app.zip")
	writeCapsule(t, capsule, `{"main":{"launcher":"encap","entry-point":"com.acme.Foo"}}`, nil)

	s, err := NewSession(capsule, nil, Options{Logger: testLogger(t)})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"-Dapp.title=My App", "-Xmx1g"}, s.planner.SuppliedRuntimeArgs)
}

func TestSuppliedRuntimeArgsMalformed(t *testing.T) {
	launchEnv(t)
	t.Setenv("ENCAP_RUNTIME_ARGS", "'unclosed")
	capsule := filepath.Join(t.TempDir(), "app.zip")
	writeCapsule(t, capsule, `{"main":{"launcher":"encap","entry-point":"com.acme.Foo"}}`, nil)

	s, err := NewSession(capsule, nil, Options{Logger: testLogger(t)})
	require.NoError(t, err)
	defer s.Close()

	assert.Empty(t, s.planner.SuppliedRuntimeArgs, "a value that fails to parse is dropped, not mangled")
}

func TestModeSelection(t *testing.T) {
	launchEnv(t)
	dir := t.TempDir()
	capsule := filepath.Join(dir, "app.zip")
	record := `{
		"main": {"launcher": "encap", "entry-point": "com.acme.Foo"},
		"debug": {"entry-point": "com.acme.Debug"}
	}`
	writeCapsule(t, capsule, record, nil)

	s, err := NewSession(capsule, nil, Options{Mode: "debug", Logger: testLogger(t)})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Prepare(context.Background()))
	assert.Contains(t, s.Plan().Args, "com.acme.Debug")

	_, err = NewSession(capsule, nil, Options{Mode: "ghost", Logger: testLogger(t)})
	assert.Error(t, err)
}

func TestAgentChannelRoundTrip(t *testing.T) {
	ch, err := StartAgentChannel(testLogger(t))
	require.NoError(t, err)
	defer ch.Close()

	conn, err := net.Dial("tcp", ch.Addr())
	require.NoError(t, err)
	defer conn.Close()

	endpoint := "service:jmx:rmi:///jndi/rmi://127.0.0.1:9999/app"
	msg := make([]byte, 5+len(endpoint))
	msg[0] = MsgEndpoint
	binary.BigEndian.PutUint32(msg[1:5], uint32(len(endpoint)))
	copy(msg[5:], endpoint)
	_, err = conn.Write(msg)
	require.NoError(t, err)

	got, err := ch.Endpoint(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, endpoint, got)
}
