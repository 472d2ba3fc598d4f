// Package manifest reads the capsule's declarative metadata record.
//
// The record is a JSON object mapping section names to flat
// key→string maps. The "main" section is unconditional; every other
// section is a named mode, a platform qualifier (windows, macos,
// linux, unix, posix), a runtime-major-version qualifier
// ("runtime-N"), or a mode-scoped compound of those
// ("<mode>-<qualifier>").
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	// MainSection is the name of the unconditional section.
	MainSection = "main"

	// LauncherKey must be declared in main and name this launcher.
	LauncherKey = "launcher"

	// LauncherValue is the entry type the record must declare.
	LauncherValue = "encap"
)

var (
	// ErrNotObject is returned when the record is not a JSON object of sections
	ErrNotObject = errors.New("metadata record is not an object of sections")

	// ErrSectionCollision is returned when two section names collide case-insensitively
	ErrSectionCollision = errors.New("section names collide after lowercasing")

	// ErrRawClassPath is returned when the record declares a raw class/library path
	ErrRawClassPath = errors.New("raw class-path attribute is not allowed; declare application, dependencies or extra paths instead")

	// ErrMissingLauncher is returned when the record does not declare the launcher entry type
	ErrMissingLauncher = errors.New("metadata record does not declare the launcher entry type")
)

// Platform qualifier section names.
var platformSections = map[string]bool{
	"windows": true,
	"macos":   true,
	"linux":   true,
	"unix":    true,
	"posix":   true,
}

var runtimeSectionRe = regexp.MustCompile(`^runtime-[0-9]+$`)

// Document is a parsed metadata record. Section names are stored
// lowercased; lookups are case-insensitive.
type Document struct {
	sections map[string]map[string]string
}

// New builds a record from main-section attributes, for synthesized
// archives. Keys are lowercased; no validation runs.
func New(main map[string]string) *Document {
	section := make(map[string]string, len(main))
	for key, value := range main {
		section[strings.ToLower(key)] = value
	}
	return &Document{sections: map[string]map[string]string{MainSection: section}}
}

// Parse decodes and validates a metadata record.
func Parse(data []byte) (*Document, error) {
	var raw map[string]map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}

	doc := &Document{sections: make(map[string]map[string]string, len(raw))}
	for name, attrs := range raw {
		lower := strings.ToLower(name)
		if _, exists := doc.sections[lower]; exists {
			return nil, fmt.Errorf("%w: %q", ErrSectionCollision, name)
		}
		section := make(map[string]string, len(attrs))
		for key, value := range attrs {
			lk := strings.ToLower(key)
			if lk == "class-path" || lk == "library-path" {
				return nil, fmt.Errorf("%w (section %q)", ErrRawClassPath, name)
			}
			section[lk] = value
		}
		doc.sections[lower] = section
	}

	if doc.sections[MainSection] == nil {
		doc.sections[MainSection] = map[string]string{}
	}
	return doc, nil
}

// ValidateLauncher checks that the record declares this launcher's
// entry type. Wrapper shells run it only on the merged document.
func (d *Document) ValidateLauncher() error {
	if d.Main()[LauncherKey] != LauncherValue {
		return ErrMissingLauncher
	}
	return nil
}

// Main returns the unconditional section.
func (d *Document) Main() map[string]string {
	return d.sections[MainSection]
}

// Section returns the named section, or nil when absent. The lookup
// is case-insensitive.
func (d *Document) Section(name string) map[string]string {
	return d.sections[strings.ToLower(name)]
}

// Has reports whether the named section exists.
func (d *Document) Has(name string) bool {
	return d.Section(name) != nil
}

// SectionNames returns all section names, sorted, main first.
func (d *Document) SectionNames() []string {
	names := make([]string, 0, len(d.sections))
	for name := range d.sections {
		if name != MainSection {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{MainSection}, names...)
}

// Modes returns the declared mode names: named sections that are not
// platform qualifiers, runtime qualifiers, or compounds of another
// section.
func (d *Document) Modes() []string {
	var modes []string
	for _, name := range d.SectionNames() {
		if name == MainSection || IsQualifier(name) {
			continue
		}
		if base, _, ok := strings.Cut(name, "-"); ok && d.sections[base] != nil && IsQualifier(strings.TrimPrefix(name, base+"-")) {
			continue // mode-scoped qualifier section, not a mode itself
		}
		modes = append(modes, name)
	}
	return modes
}

// IsQualifier reports whether a section name is a platform or
// runtime-version qualifier rather than a mode.
func IsQualifier(name string) bool {
	name = strings.ToLower(name)
	return platformSections[name] || runtimeSectionRe.MatchString(name)
}

// Merge combines a wrapper document with the wrapped capsule's
// document. Sections merge key-wise with the wrapped capsule winning;
// list-valued caplet declarations are concatenated wrapper-first with
// duplicates dropped.
func Merge(wrapper, wrapped *Document) *Document {
	out := &Document{sections: make(map[string]map[string]string)}
	for name, attrs := range wrapper.sections {
		section := make(map[string]string, len(attrs))
		for k, v := range attrs {
			section[k] = v
		}
		out.sections[name] = section
	}
	for name, attrs := range wrapped.sections {
		section := out.sections[name]
		if section == nil {
			section = make(map[string]string, len(attrs))
			out.sections[name] = section
		}
		for k, v := range attrs {
			if k == "caplets" && section[k] != "" {
				section[k] = mergeLists(section[k], v)
				continue
			}
			section[k] = v
		}
	}
	return out
}

// Encode serializes the document back to its JSON record form.
func (d *Document) Encode() ([]byte, error) {
	return json.MarshalIndent(d.sections, "", "  ")
}

// mergeLists concatenates two whitespace-separated lists dropping
// exact duplicates, first-seen order.
func mergeLists(a, b string) string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range append(strings.Fields(a), strings.Fields(b)...) {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return strings.Join(out, " ")
}
