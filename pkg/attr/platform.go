package attr

import "runtime"

// Platform identifies the detected OS for section qualification. The
// exact name is checked first, then the OS family group ("unix"),
// then the POSIX superset.
type Platform struct {
	Exact string
	Unix  bool
	Posix bool
}

// CurrentPlatform detects the running platform.
func CurrentPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return Platform{Exact: "windows"}
	case "darwin":
		return Platform{Exact: "macos", Unix: true, Posix: true}
	case "linux":
		return Platform{Exact: "linux", Unix: true, Posix: true}
	default:
		// BSDs and friends: not in the unix family group by name,
		// but POSIX applies.
		return Platform{Exact: runtime.GOOS, Unix: true, Posix: true}
	}
}

// qualifiers returns the platform section suffixes lowest precedence
// first.
func (p Platform) qualifiers() []string {
	var q []string
	if p.Posix {
		q = append(q, "posix")
	}
	if p.Unix {
		q = append(q, "unix")
	}
	q = append(q, p.Exact)
	return q
}
