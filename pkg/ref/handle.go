// Package ref implements the two-phase file/dependency reference
// system. Lookup turns a descriptor string into an opaque,
// side-effect-free handle; Resolve turns a handle into concrete
// absolute paths, performing extraction or copy side effects at most
// once per handle identity.
package ref

import (
	"fmt"

	"github.com/provide-io/encap/pkg/deps"
)

// Tag marks a handle whose attribute context needs extra resolution
// behavior.
type Tag int

const (
	// TagNone is a plain handle.
	TagNone Tag = iota

	// TagAppArtifact marks the main application artifact: resolving
	// it also reads the artifact's embedded classpath declaration.
	TagAppArtifact

	// TagNativeDep marks a native dependency: resolving it copies
	// the file into the app cache, under an optional rename.
	TagNativeDep
)

// Handle is the opaque result of Lookup. Equal keys denote equal
// handles; Resolve memoizes on the key.
type Handle interface {
	Key() string
	Descriptor() string
}

// PathHandle denotes a concrete path, relative to the app cache or
// absolute.
type PathHandle struct {
	Path     string
	Absolute bool
}

func (h PathHandle) Key() string        { return "path:" + h.Path }
func (h PathHandle) Descriptor() string { return h.Path }

// GlobHandle denotes a glob pattern scoped to the app cache directory.
type GlobHandle struct {
	Pattern string
}

func (h GlobHandle) Key() string        { return "glob:" + h.Pattern }
func (h GlobHandle) Descriptor() string { return h.Pattern }

// DepHandle denotes a dependency coordinate.
type DepHandle struct {
	Coord deps.Coordinate
	Type  string
}

func (h DepHandle) Key() string        { return "dep:" + h.Coord.String() + ":" + h.Type }
func (h DepHandle) Descriptor() string { return h.Coord.String() }

// TaggedHandle associates a handle with the attribute context that
// produced it.
type TaggedHandle struct {
	Inner  Handle
	Tag    Tag
	Rename string
}

func (h TaggedHandle) Key() string {
	return fmt.Sprintf("tag:%d:%s:%s", h.Tag, h.Rename, h.Inner.Key())
}

func (h TaggedHandle) Descriptor() string { return h.Inner.Descriptor() }
