package archive

import (
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/encap/pkg/manifest"
)

// EmbeddedClasspath reads an application artifact's own embedded
// classpath declaration: the "app-class-path" key of its metadata
// record, whitespace-separated, entries relative to the artifact's
// directory. Artifacts without a readable record or declaration
// simply contribute nothing.
func EmbeddedClasspath(artifactPath string, logger hclog.Logger) []string {
	doc := readEmbeddedManifest(artifactPath, logger)
	if doc == nil {
		return nil
	}
	return strings.Fields(doc.Main()["app-class-path"])
}

// EmbeddedEntryPoint reads an artifact's declared entry point, used
// when the capsule itself does not declare one.
func EmbeddedEntryPoint(artifactPath string, logger hclog.Logger) string {
	doc := readEmbeddedManifest(artifactPath, logger)
	if doc == nil {
		return ""
	}
	return doc.Main()["entry-point"]
}

func readEmbeddedManifest(artifactPath string, logger hclog.Logger) *manifest.Document {
	if !IsArchive(artifactPath) {
		return nil
	}
	r, err := Open(artifactPath, logger)
	if err != nil {
		logger.Debug("Artifact is not readable as a container", "path", artifactPath, "error", err)
		return nil
	}
	defer r.Close()

	doc, err := r.Manifest()
	if err != nil {
		logger.Trace("Artifact carries no metadata record", "path", artifactPath)
		return nil
	}
	return doc
}
