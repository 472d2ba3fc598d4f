package launch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provide-io/encap/pkg/attr"
	"github.com/provide-io/encap/pkg/errctx"
	"github.com/provide-io/encap/pkg/manifest"
	"github.com/provide-io/encap/pkg/ref"
)

func testLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{Name: "launch_test", Level: hclog.Trace})
}

func testStore(t *testing.T, doc string) *attr.Store {
	t.Helper()
	d, err := manifest.Parse([]byte(doc))
	require.NoError(t, err)

	reg := attr.NewRegistry()
	require.NoError(t, reg.RegisterAll(Declarations()))

	store := attr.NewStore(d, reg, attr.CurrentPlatform(), &errctx.Context{}, testLogger())
	require.NoError(t, store.Finalize())
	return store
}

func testPlanner(t *testing.T, doc, cacheDir string) *Planner {
	t.Helper()
	logger := testLogger()
	return &Planner{
		Store:       testStore(t, doc),
		Refs:        ref.NewResolver(cacheDir, nil, &errctx.Context{}, logger),
		ArchivePath: "/capsules/app.zip",
		AppID:       "com.acme.app",
		CacheDir:    cacheDir,
		Runtime:     Installation{Home: "/opt/rt", Exe: "/opt/rt/bin/" + runtimeExeName, Version: "17"},
		Ectx:        &errctx.Context{},
		Logger:      logger,
	}
}

func TestDedupeRuntimeArgs(t *testing.T) {
	testCases := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "heap flags collapse to last",
			in:   []string{"-Xmx512m", "-verbose", "-Xmx2g"},
			want: []string{"-Xmx2g", "-verbose"},
		},
		{
			name: "property flags collapse by key",
			in:   []string{"-Dfoo=1", "-Dbar=2", "-Dfoo=3"},
			want: []string{"-Dfoo=3", "-Dbar=2"},
		},
		{
			name: "XX toggles collapse by option name",
			in:   []string{"-XX:+UseG1GC", "-XX:-UseG1GC"},
			want: []string{"-XX:-UseG1GC"},
		},
		{
			name: "unrelated args kept verbatim",
			in:   []string{"-ea", "-server"},
			want: []string{"-ea", "-server"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, dedupeRuntimeArgs(tc.in))
		})
	}
}

func TestParseAssignment(t *testing.T) {
	key, value, ifAbsent, err := parseAssignment("FOO=bar")
	require.NoError(t, err)
	assert.Equal(t, "FOO", key)
	assert.Equal(t, "bar", value)
	assert.False(t, ifAbsent)

	key, value, ifAbsent, err = parseAssignment("FOO?=bar")
	require.NoError(t, err)
	assert.Equal(t, "FOO", key)
	assert.Equal(t, "bar", value)
	assert.True(t, ifAbsent)

	key, value, _, err = parseAssignment("BARE")
	require.NoError(t, err)
	assert.Equal(t, "BARE", key)
	assert.Empty(t, value)

	_, _, _, err = parseAssignment("=broken")
	assert.Error(t, err)
}

func TestSplitRename(t *testing.T) {
	desc, rename := splitRename("lib/native.so,libfoo.so")
	assert.Equal(t, "lib/native.so", desc)
	assert.Equal(t, "libfoo.so", rename)

	desc, rename = splitRename("lib/native.so")
	assert.Equal(t, "lib/native.so", desc)
	assert.Empty(t, rename)

	// comma inside a coordinate exclusion list is not a rename
	desc, rename = splitRename("com.acme:nat:1.0(org.x:y,org.z:w)")
	assert.Equal(t, "com.acme:nat:1.0(org.x:y,org.z:w)", desc)
	assert.Empty(t, rename)
}

func TestEnvHelpers(t *testing.T) {
	env := []string{"A=1", "B=2"}

	env = setEnv(env, "A", "9")
	v, ok := getEnv(env, "A")
	assert.True(t, ok)
	assert.Equal(t, "9", v)

	env = setEnvIfAbsent(env, "A", "ignored")
	v, _ = getEnv(env, "A")
	assert.Equal(t, "9", v)

	env = setEnvIfAbsent(env, "C", "3")
	v, ok = getEnv(env, "C")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestVersionFromDirName(t *testing.T) {
	assert.Equal(t, "17.0.2", versionFromDirName("jdk-17.0.2"))
	assert.Equal(t, "11", versionFromDirName("java-11-openjdk-amd64"))
	assert.Equal(t, "1.8.0_302", versionFromDirName("jdk1.8.0_302"))
	assert.Empty(t, versionFromDirName("temurin"))
}

func TestBuildClasspathFromCache(t *testing.T) {
	cache := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cache, "foo.jar"), []byte("jar"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(cache, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cache, "lib", "a.jar"), []byte("jar"), 0o644))

	p := testPlanner(t, `{"main":{"launcher":"encap","entry-point":"com.acme.Foo"}}`, cache)

	cp, err := p.buildClasspath(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		p.ArchivePath,
		cache,
		filepath.Join(cache, "foo.jar"),
	}, cp, "top-level archives join the classpath, nested ones do not")
	assert.NotContains(t, cp, filepath.Join(cache, "lib", "a.jar"))
}

func TestBuildPlanArgumentOrder(t *testing.T) {
	cache := t.TempDir()
	doc := `{"main":{
		"launcher": "encap",
		"entry-point": "com.acme.Foo",
		"runtime-args": "-Xmx1g",
		"system-properties": "color=blue",
		"args": "--serve"
	}}`
	p := testPlanner(t, doc, cache)
	p.SuppliedArgs = []string{"extra"}

	plan, err := p.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, p.Runtime.Exe, plan.Exe)
	assert.Contains(t, plan.LibraryPath, cache, "cache directory always joins the library path")
	assert.Equal(t, []string{
		"-Xmx1g",
		"-Dcolor=blue",
		"-Djava.library.path=" + strings.Join(plan.LibraryPath, string(os.PathListSeparator)),
		"-cp", strings.Join(plan.Classpath, string(os.PathListSeparator)),
		"com.acme.Foo",
		"--serve", "extra",
	}, plan.Args)

	v, ok := getEnv(plan.Env, EnvArchive)
	assert.True(t, ok)
	assert.Equal(t, p.ArchivePath, v)
	v, ok = getEnv(plan.Env, EnvAppID)
	assert.True(t, ok)
	assert.Equal(t, "com.acme.app", v)
}

func TestBuildPlanPositionalArgs(t *testing.T) {
	doc := `{"main":{"launcher":"encap","entry-point":"com.acme.Foo","args":"$2 $1"}}`
	p := testPlanner(t, doc, t.TempDir())
	p.SuppliedArgs = []string{"hi", "there"}

	plan, err := p.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"there", "hi"}, plan.Args[len(plan.Args)-2:])
}

func TestBuildPlanMissingEntryPoint(t *testing.T) {
	p := testPlanner(t, `{"main":{"launcher":"encap"}}`, t.TempDir())

	_, err := p.Build(context.Background())
	assert.ErrorIs(t, err, ErrNoEntryPoint)
}

func TestExtractDisabledConflicts(t *testing.T) {
	doc := `{"main":{
		"launcher": "encap",
		"entry-point": "com.acme.Foo",
		"extract": "false",
		"library-path-a": "native"
	}}`
	p := testPlanner(t, doc, "")

	_, err := p.Build(context.Background())
	require.ErrorIs(t, err, ErrExtractDisabled)
	assert.Contains(t, err.Error(), AttrLibraryPathA)
	assert.Contains(t, err.Error(), AttrExtract)
}

func TestScriptShortCircuit(t *testing.T) {
	cache := t.TempDir()
	script := filepath.Join(cache, "start.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o644))

	doc := `{"main":{"launcher":"encap","script":"start.sh","args":"run"}}`
	p := testPlanner(t, doc, cache)

	plan, err := p.Build(context.Background())
	require.NoError(t, err)

	assert.True(t, plan.Script)
	assert.Equal(t, script, plan.Exe)
	assert.Equal(t, []string{"run"}, plan.Args)

	info, err := os.Stat(script)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "script marked executable")

	v, ok := getEnv(plan.Env, EnvClasspath)
	assert.True(t, ok)
	assert.Contains(t, v, cache)
}

func TestCommandLineCeilingMitigation(t *testing.T) {
	old := commandLineCeiling
	commandLineCeiling = 64
	defer func() { commandLineCeiling = old }()

	cache := t.TempDir()
	doc := `{"main":{"launcher":"encap","entry-point":"com.acme.VeryLongEntryPointName"}}`
	p := testPlanner(t, doc, cache)

	plan, err := p.Build(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, plan.PathingArchive)
	assert.Contains(t, plan.Args, plan.PathingArchive, "pathing archive substituted for the classpath value")

	pathing := plan.PathingArchive
	_, err = os.Stat(pathing)
	assert.NoError(t, err)
	plan.Cleanup()
	_, err = os.Stat(pathing)
	assert.Error(t, err)
}

func TestCommandLineCeilingTrampolineFatal(t *testing.T) {
	old := commandLineCeiling
	commandLineCeiling = 64
	defer func() { commandLineCeiling = old }()

	doc := `{"main":{"launcher":"encap","entry-point":"com.acme.VeryLongEntryPointName"}}`
	p := testPlanner(t, doc, t.TempDir())
	p.Trampoline = true

	_, err := p.Build(context.Background())
	assert.ErrorIs(t, err, ErrCommandLineTooLong)
}
