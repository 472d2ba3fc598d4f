// Package launch discovers runtime installations, selects one against
// declared version constraints, and assembles the final child-process
// launch plan: executable, argument vector, environment, and native
// library path.
package launch

import "github.com/provide-io/encap/pkg/attr"

// Document keys of the declared attributes the planner consumes. The
// names are the literal metadata-record keys, shared with the engine
// and the informational CLI actions.
const (
	AttrApplication        = "application"
	AttrAppID              = "application-id"
	AttrAppName            = "application-name"
	AttrAppVersion         = "application-version"
	AttrEntryPoint         = "entry-point"
	AttrScript             = "script"
	AttrMinRuntimeVersion  = "min-runtime-version"
	AttrRuntimeVersion     = "runtime-version"
	AttrMaxRuntimeVersion  = "max-runtime-version"
	AttrMinUpdateVersion   = "min-update-version"
	AttrJDKRequired        = "jdk-required"
	AttrRuntimeArgs        = "runtime-args"
	AttrArgs               = "args"
	AttrEnvironment        = "environment"
	AttrSystemProperties   = "system-properties"
	AttrAppClassPath       = "app-class-path"
	AttrCapsuleInClassPath = "capsule-in-class-path"
	AttrBootClassPath      = "boot-class-path"
	AttrBootClassPathP     = "boot-class-path-p"
	AttrBootClassPathA     = "boot-class-path-a"
	AttrLibraryPathP       = "library-path-p"
	AttrLibraryPathA       = "library-path-a"
	AttrSecurityManager    = "security-manager"
	AttrSecurityPolicy     = "security-policy"
	AttrSecurityPolicyA    = "security-policy-a"
	AttrAgents             = "agents"
	AttrNativeAgents       = "native-agents"
	AttrDependencies       = "dependencies"
	AttrNativeDependencies = "native-dependencies"
	AttrCaplets            = "caplets"
	AttrExtract            = "extract"
)

// Environment variables exported for the child process.
const (
	EnvArchive     = "ENCAP_ARCHIVE"
	EnvAppCacheDir = "ENCAP_CACHE_DIR_APP"
	EnvAppID       = "ENCAP_APP_ID"
	EnvRuntimeHome = "ENCAP_RUNTIME_HOME"
	EnvClasspath   = "ENCAP_CLASSPATH"
	EnvLibraryPath = "ENCAP_LIBRARY_PATH"
)

// Declarations returns the planner's attribute declarations for
// registration with the attribute store.
func Declarations() []attr.Decl {
	return []attr.Decl{
		{Name: AttrApplication, Kind: attr.Reference, Modal: true},
		{Name: AttrAppID, Kind: attr.String},
		{Name: AttrAppName, Kind: attr.String},
		{Name: AttrAppVersion, Kind: attr.String},
		{Name: AttrEntryPoint, Kind: attr.String, Modal: true},
		{Name: AttrScript, Kind: attr.Reference, Modal: true},
		{Name: AttrMinRuntimeVersion, Kind: attr.String, Modal: true},
		{Name: AttrRuntimeVersion, Kind: attr.String, Modal: true},
		{Name: AttrMaxRuntimeVersion, Kind: attr.String, Modal: true},
		{Name: AttrMinUpdateVersion, Kind: attr.Int, Modal: true},
		{Name: AttrJDKRequired, Kind: attr.Bool, Default: false, Modal: true},
		{Name: AttrRuntimeArgs, Kind: attr.List, Modal: true},
		{Name: AttrArgs, Kind: attr.List, Modal: true},
		{Name: AttrEnvironment, Kind: attr.List, Modal: true},
		{Name: AttrSystemProperties, Kind: attr.Map, Modal: true},
		{Name: AttrAppClassPath, Kind: attr.List, Modal: true},
		{Name: AttrCapsuleInClassPath, Kind: attr.Bool, Default: true, Modal: true},
		{Name: AttrBootClassPath, Kind: attr.List, Modal: true},
		{Name: AttrBootClassPathP, Kind: attr.List, Modal: true},
		{Name: AttrBootClassPathA, Kind: attr.List, Modal: true},
		{Name: AttrLibraryPathP, Kind: attr.List, Modal: true},
		{Name: AttrLibraryPathA, Kind: attr.List, Modal: true},
		{Name: AttrSecurityManager, Kind: attr.String, Modal: true},
		{Name: AttrSecurityPolicy, Kind: attr.Reference, Modal: true},
		{Name: AttrSecurityPolicyA, Kind: attr.Reference, Modal: true},
		{Name: AttrAgents, Kind: attr.Map, Modal: true},
		{Name: AttrNativeAgents, Kind: attr.Map, Modal: true},
		{Name: AttrDependencies, Kind: attr.List, Modal: true},
		{Name: AttrNativeDependencies, Kind: attr.List, Modal: true},
		{Name: AttrCaplets, Kind: attr.List},
		{Name: AttrExtract, Kind: attr.Bool, Default: true, Modal: true},
	}
}
