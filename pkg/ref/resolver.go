package ref

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/encap/pkg/archive"
	"github.com/provide-io/encap/pkg/deps"
	"github.com/provide-io/encap/pkg/errctx"
)

var (
	// ErrEscapesCache is returned when a descriptor cannot be confined to the cache directory
	ErrEscapesCache = errors.New("descriptor escapes the cache directory")

	// ErrNoCache is returned when a cache-relative reference is used with no app cache
	ErrNoCache = errors.New("reference requires an app cache but extraction is disabled")

	// ErrUnresolved is returned when a reference resolves to no files
	ErrUnresolved = errors.New("reference resolved to no files")
)

// Resolver resolves handles to absolute paths. Resolution happens on
// the single main pipeline thread; the memo map needs no locking.
type Resolver struct {
	cacheDir    string // "" when the app has no cache
	buildHome   string // runtime home recorded at build time
	runtimeHome string // runtime home selected for this launch
	backend     deps.Backend
	memo        map[string][]string
	ectx        *errctx.Context
	logger      hclog.Logger
}

// NewResolver creates a resolver. cacheDir may be empty when the
// application declares no extraction; backend may be nil when no
// dependency backend is configured.
func NewResolver(cacheDir string, backend deps.Backend, ectx *errctx.Context, logger hclog.Logger) *Resolver {
	return &Resolver{
		cacheDir: cacheDir,
		backend:  backend,
		memo:     make(map[string][]string),
		ectx:     ectx,
		logger:   logger,
	}
}

// SetRuntimeRemap records the build-time and selected runtime homes.
// Absolute references under the build-time home are remapped to the
// selected one, so boot-classpath-style references expressed against
// "the current runtime" survive runtime selection.
func (r *Resolver) SetRuntimeRemap(buildHome, runtimeHome string) {
	r.buildHome = buildHome
	r.runtimeHome = runtimeHome
}

// Lookup turns a descriptor into a handle. Pure: no filesystem or
// network access. expectedExt (without dot) is appended to
// non-dependency descriptors lacking an extension.
func (r *Resolver) Lookup(descriptor, expectedExt string) (Handle, error) {
	return r.LookupTagged(descriptor, expectedExt, TagNone, "")
}

// LookupTagged is Lookup with an attribute-context tag attached.
func (r *Resolver) LookupTagged(descriptor, expectedExt string, tag Tag, rename string) (Handle, error) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return nil, fmt.Errorf("empty reference descriptor")
	}

	var inner Handle
	switch {
	case deps.IsCoordinate(descriptor):
		coord, err := deps.ParseCoordinate(descriptor)
		if err != nil {
			return nil, err
		}
		inner = DepHandle{Coord: coord, Type: expectedExt}

	case strings.ContainsAny(descriptor, "*?["):
		pattern := filepath.ToSlash(descriptor)
		if filepath.IsAbs(descriptor) || escapesRoot(pattern) {
			return nil, fmt.Errorf("%w: glob %q", ErrEscapesCache, descriptor)
		}
		inner = GlobHandle{Pattern: pattern}

	default:
		path := descriptor
		if filepath.Ext(path) == "" && expectedExt != "" {
			path += "." + expectedExt
		}
		if filepath.IsAbs(path) {
			inner = PathHandle{Path: filepath.Clean(path), Absolute: true}
		} else {
			clean := filepath.ToSlash(filepath.Clean(path))
			if escapesRoot(clean) {
				return nil, fmt.Errorf("%w: %q", ErrEscapesCache, descriptor)
			}
			inner = PathHandle{Path: clean}
		}
	}

	if tag == TagNone {
		return inner, nil
	}
	return TaggedHandle{Inner: inner, Tag: tag, Rename: rename}, nil
}

// escapesRoot reports whether a cleaned slash path walks above its
// root.
func escapesRoot(clean string) bool {
	return clean == ".." || strings.HasPrefix(clean, "../")
}

// Resolve turns a handle into an ordered list of absolute paths.
// Side effects run at most once per handle identity; a second call
// observes the memoized result.
func (r *Resolver) Resolve(ctx context.Context, h Handle) ([]string, error) {
	key := h.Key()
	if paths, ok := r.memo[key]; ok {
		r.logger.Trace("🔁 Reference already resolved", "key", key)
		return paths, nil
	}

	r.ectx.Set(errctx.KindReference, h.Descriptor(), "")
	paths, err := r.resolve(ctx, h)
	if err != nil {
		return nil, err
	}
	r.memo[key] = paths
	r.logger.Debug("🔗 Resolved reference", "descriptor", h.Descriptor(), "paths", len(paths))
	return paths, nil
}

// ResolveOne resolves a handle that must denote exactly one file.
func (r *Resolver) ResolveOne(ctx context.Context, h Handle) (string, error) {
	paths, err := r.Resolve(ctx, h)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUnresolved, h.Descriptor())
	}
	return paths[0], nil
}

func (r *Resolver) resolve(ctx context.Context, h Handle) ([]string, error) {
	switch v := h.(type) {
	case PathHandle:
		return r.resolvePath(v)
	case GlobHandle:
		return r.resolveGlob(v)
	case DepHandle:
		return r.resolveDep(ctx, v)
	case TaggedHandle:
		return r.resolveTagged(ctx, v)
	default:
		return nil, fmt.Errorf("unknown handle type %T", h)
	}
}

func (r *Resolver) resolvePath(h PathHandle) ([]string, error) {
	if h.Absolute {
		path := h.Path
		if r.buildHome != "" && r.runtimeHome != "" && r.buildHome != r.runtimeHome {
			if rel, err := filepath.Rel(r.buildHome, path); err == nil && !escapesRoot(filepath.ToSlash(rel)) {
				remapped := filepath.Join(r.runtimeHome, rel)
				r.logger.Debug("🔀 Remapped runtime-relative reference", "from", path, "to", remapped)
				path = remapped
			}
		}
		return []string{path}, nil
	}

	if r.cacheDir == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoCache, h.Path)
	}
	return []string{filepath.Join(r.cacheDir, filepath.FromSlash(h.Path))}, nil
}

func (r *Resolver) resolveGlob(h GlobHandle) ([]string, error) {
	if r.cacheDir == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoCache, h.Pattern)
	}
	matches, err := filepath.Glob(filepath.Join(r.cacheDir, filepath.FromSlash(h.Pattern)))
	if err != nil {
		return nil, fmt.Errorf("bad glob %q: %w", h.Pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

func (r *Resolver) resolveDep(ctx context.Context, h DepHandle) ([]string, error) {
	if r.backend == nil {
		return nil, fmt.Errorf("%w: cannot resolve %s", deps.ErrNoBackend, h.Coord.String())
	}
	paths, err := r.backend.Resolve(ctx, h.Coord, h.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", h.Coord.String(), err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnresolved, h.Coord.String())
	}
	return paths, nil
}

func (r *Resolver) resolveTagged(ctx context.Context, h TaggedHandle) ([]string, error) {
	inner, err := r.Resolve(ctx, h.Inner)
	if err != nil {
		return nil, err
	}

	switch h.Tag {
	case TagAppArtifact:
		return r.resolveAppArtifact(inner)
	case TagNativeDep:
		return r.resolveNativeDep(inner, h.Rename)
	default:
		return inner, nil
	}
}

// resolveAppArtifact appends the artifact's own embedded classpath
// entries, resolved against the artifact's directory.
func (r *Resolver) resolveAppArtifact(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, ErrUnresolved
	}
	artifact := paths[0]
	out := append([]string{}, paths...)
	for _, entry := range archive.EmbeddedClasspath(artifact, r.logger) {
		out = append(out, filepath.Join(filepath.Dir(artifact), filepath.FromSlash(entry)))
	}
	return out, nil
}

// resolveNativeDep copies the resolved file into the cache under an
// optional rename, skipping the copy if the target already lives in
// the writable cache.
func (r *Resolver) resolveNativeDep(paths []string, rename string) ([]string, error) {
	if len(paths) == 0 {
		return nil, ErrUnresolved
	}
	src := paths[0]

	if r.cacheDir == "" {
		if rename != "" {
			return nil, fmt.Errorf("%w: native dependency rename %q", ErrNoCache, rename)
		}
		return []string{src}, nil
	}

	if within(r.cacheDir, src) {
		r.logger.Trace("📎 Native dependency already cache-resident", "path", src)
		return []string{src}, nil
	}

	name := rename
	if name == "" {
		name = filepath.Base(src)
	}
	dest := filepath.Join(r.cacheDir, name)

	if _, err := os.Stat(dest); err == nil {
		r.logger.Trace("📎 Native dependency already copied", "path", dest)
		return []string{dest}, nil
	}

	if err := copyFile(src, dest); err != nil {
		return nil, fmt.Errorf("failed to copy native dependency %s: %w", src, err)
	}
	r.logger.Debug("📎 Copied native dependency into cache", "src", src, "dest", dest)
	return []string{dest}, nil
}

// within reports whether path lies under root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && !escapesRoot(filepath.ToSlash(rel))
}

// copyFile copies a single file preserving its permissions.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	sourceInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, sourceInfo.Mode())
}
