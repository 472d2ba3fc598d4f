package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/provide-io/encap/pkg/manifest"
)

// Writer builds a new capsule file.
type Writer struct {
	path string
	f    *os.File
	zw   *zip.Writer
}

// NewWriter creates a capsule at path, truncating any existing file.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create capsule %s: %w", path, err)
	}
	return &Writer{path: path, f: f, zw: zip.NewWriter(f)}, nil
}

// Add writes one entry with the given contents and mode.
func (w *Writer) Add(name string, data []byte, mode fs.FileMode) error {
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
	hdr.SetMode(mode)
	entry, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to add entry %s: %w", name, err)
	}
	if _, err := entry.Write(data); err != nil {
		return fmt.Errorf("failed to write entry %s: %w", name, err)
	}
	return nil
}

// AddManifest writes the metadata record entry.
func (w *Writer) AddManifest(doc *manifest.Document) error {
	data, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode metadata record: %w", err)
	}
	return w.Add(MetadataEntry, data, 0o600)
}

// CopyEntry copies an entry from a Reader verbatim.
func (w *Writer) CopyEntry(e Entry) error {
	rc, err := e.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry %s: %w", e.Name, err)
	}
	defer rc.Close()

	hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
	hdr.SetMode(e.Mode())
	out, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to copy entry %s: %w", e.Name, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to copy entry %s: %w", e.Name, err)
	}
	return nil
}

// Close finalizes the capsule.
func (w *Writer) Close() error {
	if err := w.zw.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
