package deps

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/encap/pkg/vercmp"
)

// LocalStore resolves coordinates against flat on-disk repositories:
// the cache's deps directory plus any extra repository roots from
// ENCAP_REPOSITORIES. Layout: <root>/<group-as-dirs>/<artifact>/<version>/
// <artifact>-<version>[-<classifier>].<type>.
type LocalStore struct {
	roots  []string
	logger hclog.Logger
}

// NewLocalStore creates a store over the given repository roots, in
// lookup order.
func NewLocalStore(roots []string, logger hclog.Logger) *LocalStore {
	return &LocalStore{roots: roots, logger: logger}
}

// RepositoryRoots returns the extra repository roots declared in the
// environment.
func RepositoryRoots() []string {
	raw := os.Getenv("ENCAP_REPOSITORIES")
	if raw == "" {
		return nil
	}
	return filepath.SplitList(raw)
}

func (s *LocalStore) artifactDir(root string, c Coordinate) string {
	groupPath := filepath.Join(strings.Split(c.Group, ".")...)
	return filepath.Join(root, groupPath, c.Artifact)
}

func (s *LocalStore) artifactFile(c Coordinate, typ string) string {
	name := c.Artifact + "-" + c.Version
	if c.Classifier != "" {
		name += "-" + c.Classifier
	}
	return name + "." + typ
}

// Resolve finds the artifact in the first repository root carrying
// it. An empty version resolves to the newest available.
func (s *LocalStore) Resolve(ctx context.Context, c Coordinate, typ string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if typ == "" {
		typ = "jar"
	}

	for _, root := range s.roots {
		resolved := c
		if resolved.Version == "" {
			latest, err := s.latestIn(root, c)
			if err != nil {
				continue
			}
			resolved.Version = latest
		}

		path := filepath.Join(s.artifactDir(root, resolved), resolved.Version, s.artifactFile(resolved, typ))
		if _, err := os.Stat(path); err == nil {
			s.logger.Debug("📚 Resolved dependency", "coordinate", c.String(), "path", path)
			return []string{path}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s (type %s) in %d repositories", ErrNotFound, c.String(), typ, len(s.roots))
}

// LatestVersion returns the newest version of the coordinate known to
// any repository root.
func (s *LocalStore) LatestVersion(ctx context.Context, c Coordinate) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var best string
	var bestParsed vercmp.Version
	for _, root := range s.roots {
		v, err := s.latestIn(root, c)
		if err != nil {
			continue
		}
		parsed, err := vercmp.Parse(v)
		if err != nil {
			continue
		}
		if best == "" || vercmp.Compare(parsed, bestParsed) > 0 {
			best = v
			bestParsed = parsed
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, c.String())
	}
	return best, nil
}

// latestIn scans one repository root for the coordinate's newest
// version directory.
func (s *LocalStore) latestIn(root string, c Coordinate) (string, error) {
	dir := s.artifactDir(root, c)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var best string
	var bestParsed vercmp.Version
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		parsed, err := vercmp.Parse(entry.Name())
		if err != nil {
			continue
		}
		if best == "" || vercmp.Compare(parsed, bestParsed) > 0 {
			best = entry.Name()
			bestParsed = parsed
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: no versions of %s under %s", ErrNotFound, c.String(), root)
	}
	return best, nil
}

// PrintTree prints the locally resolvable tree for a coordinate. A
// flat store tracks no transitive metadata, so the tree is the
// artifact itself plus where it resolves from.
func (s *LocalStore) PrintTree(ctx context.Context, w io.Writer, c Coordinate, typ string) error {
	paths, err := s.Resolve(ctx, c, typ)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", c.String())
	for _, p := range paths {
		fmt.Fprintf(w, "└── %s\n", p)
	}
	return nil
}
