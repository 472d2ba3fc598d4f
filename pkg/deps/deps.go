// Package deps is the boundary to the dependency-resolution backend.
// The launcher consumes it through a narrow interface; repository
// negotiation, downloads and descriptor parsing live behind it.
package deps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrBadCoordinate is returned for a malformed dependency coordinate
	ErrBadCoordinate = errors.New("malformed dependency coordinate")

	// ErrNotFound is returned when a coordinate resolves to no artifact
	ErrNotFound = errors.New("dependency not found")

	// ErrNoBackend is returned when dependency resolution is needed but unavailable
	ErrNoBackend = errors.New("dependency backend unavailable")
)

// Coordinate identifies one dependency:
// "group:artifact[:version[:classifier]]", with an optional
// parenthesized exclusion list: "g:a:1.0(g2:a2,g3:a3)".
type Coordinate struct {
	Group      string
	Artifact   string
	Version    string
	Classifier string
	Exclusions []string
}

// ParseCoordinate parses a coordinate descriptor.
func ParseCoordinate(s string) (Coordinate, error) {
	var c Coordinate

	if i := strings.IndexByte(s, '('); i >= 0 {
		if !strings.HasSuffix(s, ")") {
			return c, fmt.Errorf("%w: unterminated exclusion list in %q", ErrBadCoordinate, s)
		}
		for _, excl := range strings.Split(s[i+1:len(s)-1], ",") {
			excl = strings.TrimSpace(excl)
			if excl != "" {
				c.Exclusions = append(c.Exclusions, excl)
			}
		}
		s = s[:i]
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 4 || parts[0] == "" || parts[1] == "" {
		return c, fmt.Errorf("%w: %q", ErrBadCoordinate, s)
	}
	c.Group = parts[0]
	c.Artifact = parts[1]
	if len(parts) > 2 {
		c.Version = parts[2]
	}
	if len(parts) > 3 {
		c.Classifier = parts[3]
	}
	return c, nil
}

// IsCoordinate reports whether a descriptor looks like a dependency
// coordinate rather than a path.
func IsCoordinate(s string) bool {
	if !strings.Contains(s, ":") {
		return false
	}
	// Windows drive letters ("C:\x") and URLs are not coordinates.
	if strings.Contains(s, "\\") || strings.Contains(s, "/") {
		return false
	}
	_, err := ParseCoordinate(s)
	return err == nil
}

// String renders the canonical coordinate form.
func (c Coordinate) String() string {
	s := c.Group + ":" + c.Artifact
	if c.Version != "" {
		s += ":" + c.Version
	}
	if c.Classifier != "" {
		s += ":" + c.Classifier
	}
	if len(c.Exclusions) > 0 {
		s += "(" + strings.Join(c.Exclusions, ",") + ")"
	}
	return s
}

// Backend resolves dependency coordinates to local artifact paths.
type Backend interface {
	// Resolve returns the local paths of the artifact (and its
	// transitive dependencies, when the backend tracks them) for a
	// coordinate. typ is the artifact extension without the dot.
	Resolve(ctx context.Context, c Coordinate, typ string) ([]string, error)

	// PrintTree writes the coordinate's dependency tree to w.
	PrintTree(ctx context.Context, w io.Writer, c Coordinate, typ string) error

	// LatestVersion returns the newest locally known version of the
	// coordinate.
	LatestVersion(ctx context.Context, c Coordinate) (string, error)
}
