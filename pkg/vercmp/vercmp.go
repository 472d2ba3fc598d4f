// Package vercmp parses and compares dotted runtime-version strings.
// Versions look like "17.0.2", "1.8.0_31" or "21.0.1-rc": numeric
// dot-separated segments, an optional "_" update segment, and an
// optional "-" pre-release marker ordering below the release.
// Everything here is a pure function; no state is kept.
package vercmp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrEmptyVersion is returned for a blank version string
	ErrEmptyVersion = errors.New("empty version string")

	// ErrMalformedVersion is returned when a segment is not numeric
	ErrMalformedVersion = errors.New("malformed version string")
)

// Pre-release markers in ascending order; anything unknown ranks
// below "ea" and orders lexically among other unknowns.
var preRank = map[string]int{
	"ea":   1,
	"beta": 2,
	"rc":   3,
}

// Version is a parsed runtime version.
type Version struct {
	segments []int
	update   int
	pre      string
}

// Parse parses a dotted version string.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, ErrEmptyVersion
	}

	var v Version

	if i := strings.IndexByte(s, '-'); i >= 0 {
		v.pre = strings.ToLower(s[i+1:])
		s = s[:i]
		if v.pre == "" || s == "" {
			return Version{}, fmt.Errorf("%w: %q", ErrMalformedVersion, s)
		}
	}

	if i := strings.IndexByte(s, '_'); i >= 0 {
		update, err := strconv.Atoi(s[i+1:])
		if err != nil || update < 0 {
			return Version{}, fmt.Errorf("%w: bad update segment in %q", ErrMalformedVersion, s)
		}
		v.update = update
		s = s[:i]
	}

	for _, part := range strings.Split(s, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("%w: segment %q", ErrMalformedVersion, part)
		}
		v.segments = append(v.segments, n)
	}

	return v, nil
}

// MustParse is like Parse but panics on error. Useful for constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("vercmp.MustParse(%q): %v", s, err))
	}
	return v
}

// String renders the canonical form; Parse(v.String()) equals v.
func (v Version) String() string {
	parts := make([]string, len(v.segments))
	for i, n := range v.segments {
		parts[i] = strconv.Itoa(n)
	}
	s := strings.Join(parts, ".")
	if v.update > 0 {
		s += "_" + strconv.Itoa(v.update)
	}
	if v.pre != "" {
		s += "-" + v.pre
	}
	return s
}

// Major returns the runtime major version. Legacy "1.N" numbering
// maps to N (1.8.0 is major 8).
func (v Version) Major() int {
	if len(v.segments) == 0 {
		return 0
	}
	if v.segments[0] == 1 && len(v.segments) > 1 {
		return v.segments[1]
	}
	return v.segments[0]
}

// Update returns the update segment (0 when absent).
func (v Version) Update() int {
	return v.update
}

// PreRelease returns the pre-release marker ("" for a release).
func (v Version) PreRelease() string {
	return v.pre
}

// Compare returns -1, 0 or 1 ordering a against b. Missing segments
// compare as zero; a pre-release orders below its release; known
// markers order ea < beta < rc, unknown markers order lexically below
// ea.
func Compare(a, b Version) int {
	n := len(a.segments)
	if len(b.segments) > n {
		n = len(b.segments)
	}
	for i := 0; i < n; i++ {
		as, bs := 0, 0
		if i < len(a.segments) {
			as = a.segments[i]
		}
		if i < len(b.segments) {
			bs = b.segments[i]
		}
		if as != bs {
			return sign(as - bs)
		}
	}

	if a.update != b.update {
		return sign(a.update - b.update)
	}

	return comparePre(a.pre, b.pre)
}

func comparePre(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return 1 // release above any pre-release
	}
	if b == "" {
		return -1
	}
	ar, aKnown := preRank[a]
	br, bKnown := preRank[b]
	switch {
	case aKnown && bKnown:
		return sign(ar - br)
	case aKnown:
		return 1 // known markers above unknown ones
	case bKnown:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// CompareStrings parses both operands and compares them.
func CompareStrings(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return Compare(va, vb), nil
}
