package launch

import (
	"os"
	"path/filepath"
)

// Installation is one runtime installation on this machine. Version
// may be empty when the installation was supplied as an explicit
// override and never probed.
type Installation struct {
	Home    string
	Exe     string
	Version string
	JDK     bool
}

// NewInstallation describes the runtime rooted at home. It checks
// only for the development-kit executable; the caller decides whether
// the home is plausible at all.
func NewInstallation(home, version string) Installation {
	_, err := os.Stat(filepath.Join(home, "bin", devkitExeName))
	return Installation{
		Home:    home,
		Exe:     filepath.Join(home, "bin", runtimeExeName),
		Version: version,
		JDK:     err == nil,
	}
}

// runtimeHome returns the runnable home under dir, looking through
// the macOS bundle layout, or "" when dir holds no runtime.
func runtimeHome(dir string) string {
	for _, home := range []string{dir, filepath.Join(dir, "Contents", "Home")} {
		if _, err := os.Stat(filepath.Join(home, "bin", runtimeExeName)); err == nil {
			return home
		}
	}
	return ""
}

// CurrentRuntime returns the runtime the surrounding environment
// already points at (JAVA_HOME), or nil when none is configured or it
// does not hold a runnable installation.
func CurrentRuntime() *Installation {
	javaHome := os.Getenv("JAVA_HOME")
	if javaHome == "" {
		return nil
	}
	home := runtimeHome(javaHome)
	if home == "" {
		return nil
	}
	inst := NewInstallation(home, "")
	return &inst
}
