package vercmp

import (
	"fmt"
	"strings"
)

// Constraints describes the declared runtime version requirements for
// an application.
type Constraints struct {
	Min           string // minimum acceptable version (inclusive)
	Max           string // maximum acceptable version (inclusive)
	Exact         string // exact version required; overrides Min/Max
	MinUpdate     int    // minimum update segment within the version
	RequireDevKit bool   // full development kit required, not just a runtime
}

// Empty reports whether no version constraint is declared.
func (c Constraints) Empty() bool {
	return c.Min == "" && c.Max == "" && c.Exact == "" && c.MinUpdate == 0
}

// Satisfies reports whether v meets the version constraints. The
// RequireDevKit flag is checked by the caller against the candidate
// installation, not here.
func (c Constraints) Satisfies(v Version) (bool, error) {
	if c.Exact != "" {
		exact, err := Parse(c.Exact)
		if err != nil {
			return false, fmt.Errorf("exact version constraint: %w", err)
		}
		return Compare(v, exact) == 0, nil
	}
	if c.Min != "" {
		min, err := Parse(c.Min)
		if err != nil {
			return false, fmt.Errorf("minimum version constraint: %w", err)
		}
		if Compare(v, min) < 0 {
			return false, nil
		}
	}
	if c.Max != "" {
		max, err := Parse(c.Max)
		if err != nil {
			return false, fmt.Errorf("maximum version constraint: %w", err)
		}
		if Compare(v, max) > 0 {
			return false, nil
		}
	}
	if c.MinUpdate > 0 && v.Update() < c.MinUpdate {
		return false, nil
	}
	return true, nil
}

// String renders the constraints for error messages.
func (c Constraints) String() string {
	var parts []string
	if c.Exact != "" {
		parts = append(parts, "exact="+c.Exact)
	}
	if c.Min != "" {
		parts = append(parts, "min="+c.Min)
	}
	if c.Max != "" {
		parts = append(parts, "max="+c.Max)
	}
	if c.MinUpdate > 0 {
		parts = append(parts, fmt.Sprintf("min-update=%d", c.MinUpdate))
	}
	if c.RequireDevKit {
		parts = append(parts, "devkit=true")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}
