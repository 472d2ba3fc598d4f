//go:build windows

package launch

import (
	"os"
	"path/filepath"
)

const (
	runtimeExeName = "java.exe"
	devkitExeName  = "javac.exe"

	// CreateProcess command-line limit
	platformCommandLineCeiling = 32767

	// nativeLibExt is the expected extension of native libraries.
	nativeLibExt = "dll"
)

// defaultRuntimeRoots returns the conventional installation roots
// scanned when ENCAP_RUNTIME_ROOTS is unset.
func defaultRuntimeRoots() []string {
	var roots []string
	for _, env := range []string{"ProgramFiles", "ProgramFiles(x86)"} {
		if base := os.Getenv(env); base != "" {
			roots = append(roots, filepath.Join(base, "Java"))
		}
	}
	return roots
}

// platformLibraryPathBase returns the native-library search path the
// surrounding environment already declares. Windows resolves native
// libraries through PATH.
func platformLibraryPathBase() []string {
	raw := os.Getenv("PATH")
	if raw == "" {
		return nil
	}
	return filepath.SplitList(raw)
}
