package attr

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provide-io/encap/pkg/errctx"
	"github.com/provide-io/encap/pkg/manifest"
)

func testStore(t *testing.T, record string, decls []Decl) *Store {
	t.Helper()
	doc, err := manifest.Parse([]byte(record))
	require.NoError(t, err)

	reg := NewRegistry()
	require.NoError(t, reg.RegisterAll(decls))

	logger := hclog.New(&hclog.LoggerOptions{Name: "attr_test", Level: hclog.Trace})
	platform := Platform{Exact: "linux", Unix: true, Posix: true}
	return NewStore(doc, reg, platform, &errctx.Context{}, logger)
}

func TestRegistryRedeclaration(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Decl{Name: "args", Kind: List, Modal: true}))
	require.NoError(t, reg.Register(Decl{Name: "args", Kind: List, Modal: true}), "identical re-registration is a no-op")
	assert.ErrorIs(t, reg.Register(Decl{Name: "args", Kind: String, Modal: true}), ErrRedeclared)
}

func TestScalarOverride(t *testing.T) {
	record := `{
		"main": {"launcher": "encap", "application-name": "base"},
		"debug": {"application-name": "debugged"}
	}`
	decls := []Decl{{Name: "application-name", Kind: String, Modal: true}}

	s := testStore(t, record, decls)
	assert.Equal(t, "base", s.GetString("application-name"), "mode section ignored when no mode active")

	s = testStore(t, record, decls)
	require.NoError(t, s.SetMode("debug"))
	assert.Equal(t, "debugged", s.GetString("application-name"), "mode section wins when active")
}

func TestScalarPlatformPrecedence(t *testing.T) {
	record := `{
		"main": {"launcher": "encap", "script": "run.sh"},
		"posix": {"script": "run-posix.sh"},
		"linux": {"script": "run-linux.sh"}
	}`
	s := testStore(t, record, []Decl{{Name: "script", Kind: Reference, Modal: true}})
	assert.Equal(t, "run-linux.sh", s.GetString("script"), "exact platform beats posix superset")
}

func TestListMerge(t *testing.T) {
	record := `{
		"main": {"launcher": "encap", "runtime-args": "-Xmx512m -server"},
		"debug": {"runtime-args": "-Xdebug -Xmx512m"}
	}`
	s := testStore(t, record, []Decl{{Name: "runtime-args", Kind: List, Modal: true}})
	require.NoError(t, s.SetMode("debug"))
	// lists concatenate main-first and keep duplicates
	assert.Equal(t, []string{"-Xmx512m", "-server", "-Xdebug", "-Xmx512m"}, s.GetList("runtime-args"))
}

func TestSetUnion(t *testing.T) {
	record := `{
		"main": {"launcher": "encap", "dependencies": "a:b:1 c:d:2"},
		"debug": {"dependencies": "c:d:2 e:f:3"}
	}`
	s := testStore(t, record, []Decl{{Name: "dependencies", Kind: Set, Elem: Reference, Modal: true}})
	require.NoError(t, s.SetMode("debug"))
	assert.Equal(t, []string{"a:b:1", "c:d:2", "e:f:3"}, s.GetSet("dependencies"),
		"set union drops exact duplicates, first-seen order")
}

func TestMapMerge(t *testing.T) {
	record := `{
		"main": {"launcher": "encap", "system-properties": "file.encoding=UTF-8 debug=false"},
		"debug": {"system-properties": "debug=true"}
	}`
	s := testStore(t, record, []Decl{{Name: "system-properties", Kind: Map, Modal: true}})
	require.NoError(t, s.SetMode("debug"))

	m := s.GetMap("system-properties")
	assert.Equal(t, "UTF-8", m["file.encoding"])
	assert.Equal(t, "true", m["debug"], "higher-precedence section overrides per key")

	entries := s.MapEntries("system-properties")
	require.Len(t, entries, 2)
	assert.Equal(t, "file.encoding", entries[0].Key, "first-seen key order preserved")
	assert.Equal(t, MapEntry{Key: "debug", Value: "true"}, entries[1])
}

func TestRuntimeVersionSections(t *testing.T) {
	record := `{
		"main": {"launcher": "encap", "runtime-args": "-base"},
		"runtime-17": {"runtime-args": "-seventeen"}
	}`
	s := testStore(t, record, []Decl{{Name: "runtime-args", Kind: List, Modal: true}})
	assert.Equal(t, []string{"-base"}, s.GetList("runtime-args"))

	s.SetRuntimeMajor(17)
	assert.Equal(t, []string{"-base", "-seventeen"}, s.GetList("runtime-args"))
}

func TestTypedScalars(t *testing.T) {
	record := `{
		"main": {
			"launcher": "encap",
			"extract": "false",
			"port": "8080",
			"timeout": "2.5",
			"broken": "not-a-number"
		}
	}`
	s := testStore(t, record, []Decl{
		{Name: "extract", Kind: Bool, Default: true},
		{Name: "port", Kind: Int},
		{Name: "timeout", Kind: Float},
		{Name: "broken", Kind: Int},
		{Name: "absent-bool", Kind: Bool, Default: true},
	})

	b, err := s.GetBool("extract")
	require.NoError(t, err)
	assert.False(t, b)

	n, err := s.GetInt("port")
	require.NoError(t, err)
	assert.Equal(t, int64(8080), n)

	f, err := s.GetFloat("timeout")
	require.NoError(t, err)
	assert.Equal(t, 2.5, f)

	_, err = s.GetInt("broken")
	assert.Error(t, err)

	b, err = s.GetBool("absent-bool")
	require.NoError(t, err)
	assert.True(t, b, "declared default applies when nothing matched")
}

func TestUnknownMode(t *testing.T) {
	s := testStore(t, `{"main": {"launcher": "encap"}}`, nil)
	assert.ErrorIs(t, s.SetMode("nope"), ErrUnknownMode)
}

func TestModeImmutable(t *testing.T) {
	s := testStore(t, `{"main": {"launcher": "encap"}, "debug": {}}`, nil)
	require.NoError(t, s.SetMode("debug"))
	assert.Error(t, s.SetMode("debug"), "mode is chosen once")
}

func TestFinalizeRejectsNonModalInModeSection(t *testing.T) {
	record := `{
		"main": {"launcher": "encap"},
		"debug": {"application-id": "com.acme.other"}
	}`
	s := testStore(t, record, []Decl{{Name: "application-id", Kind: String, Modal: false}})
	assert.ErrorIs(t, s.Finalize(), ErrNonModalInSection)
}

func TestFinalizeRejectsNonModalInQualifiedModeSection(t *testing.T) {
	// validation must not depend on which runtime or platform the
	// validating host happens to have
	record := `{
		"main": {"launcher": "encap"},
		"debug": {},
		"debug-runtime-17": {"application-id": "com.acme.other"}
	}`
	s := testStore(t, record, []Decl{{Name: "application-id", Kind: String, Modal: false}})
	assert.ErrorIs(t, s.Finalize(), ErrNonModalInSection)

	record = `{
		"main": {"launcher": "encap"},
		"debug": {},
		"debug-windows": {"application-id": "com.acme.other"}
	}`
	s = testStore(t, record, []Decl{{Name: "application-id", Kind: String, Modal: false}})
	assert.ErrorIs(t, s.Finalize(), ErrNonModalInSection,
		"foreign-platform mode sections are still validated")
}

func TestFinalizeAllowsModalInModeSection(t *testing.T) {
	record := `{
		"main": {"launcher": "encap"},
		"debug": {"runtime-args": "-Xdebug"}
	}`
	s := testStore(t, record, []Decl{{Name: "runtime-args", Kind: List, Modal: true}})
	assert.NoError(t, s.Finalize())
}
