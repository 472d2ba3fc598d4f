package archive

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/encap/pkg/manifest"
)

// Merge combines a wrapper capsule with the capsule it wraps into one
// output capsule. Payload entries from the wrapped capsule win on
// name conflicts; the metadata records are merged section-wise with
// the wrapped record taking precedence and caplet lists concatenated.
func Merge(wrapperPath, wrappedPath, outPath string, logger hclog.Logger) error {
	wrapper, err := Open(wrapperPath, logger)
	if err != nil {
		return err
	}
	defer wrapper.Close()

	wrapped, err := Open(wrappedPath, logger)
	if err != nil {
		return err
	}
	defer wrapped.Close()

	wrapperDoc, err := wrapper.Manifest()
	if err != nil {
		return err
	}
	wrappedDoc, err := wrapped.Manifest()
	if err != nil {
		return err
	}
	merged := manifest.Merge(wrapperDoc, wrappedDoc)

	out, err := NewWriter(outPath)
	if err != nil {
		return err
	}

	if err := out.AddManifest(merged); err != nil {
		out.Close()
		return err
	}

	written := map[string]bool{MetadataEntry: true}
	for _, e := range wrapped.Entries() {
		if written[e.Name] {
			continue
		}
		if err := out.CopyEntry(e); err != nil {
			out.Close()
			return err
		}
		written[e.Name] = true
	}
	for _, e := range wrapper.Entries() {
		if written[e.Name] {
			continue
		}
		if err := out.CopyEntry(e); err != nil {
			out.Close()
			return err
		}
		written[e.Name] = true
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finalize merged capsule: %w", err)
	}

	logger.Info("📦 Merged capsules", "wrapper", wrapperPath, "wrapped", wrappedPath, "out", outPath, "entries", len(written))
	return nil
}
