// Package archive is the launcher's container service: reading a
// capsule's metadata record, iterating and extracting its entries,
// writing new capsules, and merging a wrapper capsule with a wrapped
// one. The container format is zip; entries compressed with bzip2
// (method 12) are supported through the dsnet decompressor. The zip
// directory may be appended to an executable image, which is how
// self-launching capsules are built.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/encap/pkg/manifest"
)

const (
	// MetadataEntry is the capsule's metadata record entry.
	MetadataEntry = "ENCAP/manifest.json"

	// PrivateNamespace holds launcher-internal records; never extracted.
	PrivateNamespace = "ENCAP/"

	// LauncherNamespace holds the launcher's own implementation; never extracted.
	LauncherNamespace = "encap/"

	// methodBzip2 is the zip compression method id for bzip2 entries.
	methodBzip2 = 12
)

var (
	// ErrNoMetadata is returned when a capsule has no metadata record
	ErrNoMetadata = errors.New("capsule has no metadata record")

	// ErrEntryEscapes is returned when an entry path would escape the extraction root
	ErrEntryEscapes = errors.New("entry path escapes extraction root")
)

// Entry is one capsule entry.
type Entry struct {
	Name string
	file *zip.File
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/")
}

// Mode returns the entry's file mode.
func (e Entry) Mode() fs.FileMode {
	return e.file.Mode()
}

// UncompressedSize returns the entry's size once extracted.
func (e Entry) UncompressedSize() int64 {
	return int64(e.file.UncompressedSize64)
}

// Open returns a reader over the entry's contents.
func (e Entry) Open() (io.ReadCloser, error) {
	return e.file.Open()
}

// Reader reads one capsule.
type Reader struct {
	path    string
	zr      *zip.ReadCloser
	modTime time.Time
	logger  hclog.Logger
}

// Open opens a capsule for reading. The file may be a bare zip or an
// executable with the zip directory appended.
func Open(path string, logger hclog.Logger) (*Reader, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat capsule: %w", err)
	}

	zr, err := zip.OpenReader(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open capsule %s: %w", abs, err)
	}

	// bzip2-compressed entries appear in jar-like containers
	zr.RegisterDecompressor(methodBzip2, func(r io.Reader) io.ReadCloser {
		br, err := bzip2.NewReader(r, nil)
		if err != nil {
			return errReadCloser{err}
		}
		return br
	})

	logger.Debug("📖 Opened capsule", "path", abs, "entries", len(zr.File))
	return &Reader{path: abs, zr: zr, modTime: info.ModTime(), logger: logger}, nil
}

// IsArchive reports whether path looks like a readable capsule container.
func IsArchive(path string) bool {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	zr.Close()
	return true
}

// Path returns the absolute path of the capsule file.
func (r *Reader) Path() string { return r.path }

// ModTime returns the capsule file's modification time.
func (r *Reader) ModTime() time.Time { return r.modTime }

// Entries lists all entries in directory order.
func (r *Reader) Entries() []Entry {
	entries := make([]Entry, 0, len(r.zr.File))
	for _, f := range r.zr.File {
		entries = append(entries, Entry{Name: f.Name, file: f})
	}
	return entries
}

// Entry finds a single entry by exact name.
func (r *Reader) Entry(name string) (Entry, bool) {
	for _, f := range r.zr.File {
		if f.Name == name {
			return Entry{Name: f.Name, file: f}, true
		}
	}
	return Entry{}, false
}

// Manifest reads and parses the capsule's metadata record.
func (r *Reader) Manifest() (*manifest.Document, error) {
	entry, ok := r.Entry(MetadataEntry)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMetadata, r.path)
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata record: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata record: %w", err)
	}

	doc, err := manifest.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("capsule %s: %w", r.path, err)
	}
	return doc, nil
}

// ExtractEntry writes one entry under destRoot, preserving its mode,
// and returns the extracted path. Entry names that would escape
// destRoot are rejected.
func (r *Reader) ExtractEntry(e Entry, destRoot string) (string, error) {
	dest := filepath.Join(destRoot, filepath.FromSlash(e.Name))
	rel, err := filepath.Rel(destRoot, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrEntryEscapes, e.Name)
	}

	if e.IsDir() {
		if err := os.MkdirAll(dest, 0o700); err != nil {
			return "", err
		}
		return dest, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return "", err
	}

	rc, err := e.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open entry %s: %w", e.Name, err)
	}
	defer rc.Close()

	mode := e.Mode().Perm()
	if mode == 0 {
		mode = 0o600
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return "", fmt.Errorf("failed to extract entry %s: %w", e.Name, err)
	}

	r.logger.Trace("📂 Extracted entry", "name", e.Name, "dest", dest)
	return dest, nil
}

// Close releases the underlying zip reader.
func (r *Reader) Close() error {
	return r.zr.Close()
}

// errReadCloser surfaces a decompressor construction error on first read.
type errReadCloser struct{ err error }

func (e errReadCloser) Read([]byte) (int, error) { return 0, e.err }
func (e errReadCloser) Close() error             { return nil }
