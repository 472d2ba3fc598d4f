//go:build !windows

package launch

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	runtimeExeName = "java"
	devkitExeName  = "javac"

	// no hard command-line length ceiling on unix-likes
	platformCommandLineCeiling = 0
)

// nativeLibExt is the expected extension of native libraries.
var nativeLibExt = func() string {
	if runtime.GOOS == "darwin" {
		return "dylib"
	}
	return "so"
}()

// defaultRuntimeRoots returns the conventional installation roots
// scanned when ENCAP_RUNTIME_ROOTS is unset.
func defaultRuntimeRoots() []string {
	if runtime.GOOS == "darwin" {
		return []string{"/Library/Java/JavaVirtualMachines"}
	}
	return []string{"/usr/lib/jvm", "/usr/java"}
}

// platformLibraryPathBase returns the native-library search path the
// surrounding environment already declares.
func platformLibraryPathBase() []string {
	env := "LD_LIBRARY_PATH"
	if runtime.GOOS == "darwin" {
		env = "DYLD_LIBRARY_PATH"
	}
	raw := os.Getenv(env)
	if raw == "" {
		return nil
	}
	return filepath.SplitList(raw)
}
