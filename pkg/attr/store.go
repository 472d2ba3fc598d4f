package attr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/provide-io/encap/pkg/errctx"
	"github.com/provide-io/encap/pkg/manifest"
)

// Store resolves typed attribute values from a metadata document.
//
// Section precedence, lowest to highest:
//
//	main, runtime-N, posix, unix, <platform>,
//	<mode>, <mode>-runtime-N, <mode>-posix, <mode>-unix, <mode>-<platform>
//
// Additive kinds (List/Set/Map) merge across all applicable sections
// in that order, higher precedence appending; scalar kinds take the
// first non-empty value scanning highest precedence first.
type Store struct {
	doc          *manifest.Document
	reg          *Registry
	platform     Platform
	runtimeMajor int
	mode         string
	modeChosen   bool
	ectx         *errctx.Context
	logger       hclog.Logger
}

// NewStore creates a store over a parsed document.
func NewStore(doc *manifest.Document, reg *Registry, platform Platform, ectx *errctx.Context, logger hclog.Logger) *Store {
	return &Store{
		doc:      doc,
		reg:      reg,
		platform: platform,
		ectx:     ectx,
		logger:   logger,
	}
}

// SetRuntimeMajor records the selected runtime's major version so
// "runtime-N" sections apply.
func (s *Store) SetRuntimeMajor(major int) {
	s.runtimeMajor = major
}

// SetMode selects the active mode. At most one mode is active per
// launch; it is chosen once and immutable thereafter. The empty
// string selects no mode.
func (s *Store) SetMode(mode string) error {
	if s.modeChosen {
		return fmt.Errorf("mode already chosen: %q", s.mode)
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode != "" && !s.doc.Has(mode) {
		s.ectx.Set(errctx.KindMode, mode, "")
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	s.mode = mode
	s.modeChosen = true
	if mode != "" {
		s.logger.Debug("🎛️ Mode selected", "mode", mode)
	}
	return nil
}

// Mode returns the active mode ("" when none).
func (s *Store) Mode() string {
	return s.mode
}

// Finalize validates the document against the registered
// declarations. Runs once, before any attribute is read for launch
// work: a non-modal attribute present in a mode section is fatal.
func (s *Store) Finalize() error {
	for _, mode := range s.doc.Modes() {
		for _, section := range s.modeSections(mode) {
			attrs := s.doc.Section(section)
			for key := range attrs {
				if decl, ok := s.reg.Lookup(key); ok && !decl.Modal {
					s.ectx.Set(errctx.KindAttribute, key, "")
					return fmt.Errorf("%w: %q in section %q", ErrNonModalInSection, key, section)
				}
			}
		}
	}
	return nil
}

// modeSections lists a mode's section names as the document declares
// them, base first: the mode section plus every "<mode>-..." section
// present, whichever qualifier it carries. Validation must not depend
// on the runtime or platform of the validating host.
func (s *Store) modeSections(mode string) []string {
	names := []string{mode}
	prefix := mode + "-"
	for _, name := range s.doc.SectionNames() {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names
}

// sections returns the applicable section maps for an attribute,
// lowest precedence first. Sections absent from the document are
// skipped.
func (s *Store) sections(modal bool) []map[string]string {
	names := []string{manifest.MainSection}
	if s.runtimeMajor > 0 {
		names = append(names, "runtime-"+strconv.Itoa(s.runtimeMajor))
	}
	names = append(names, s.platform.qualifiers()...)
	if modal && s.mode != "" {
		names = append(names, s.mode)
		if s.runtimeMajor > 0 {
			names = append(names, s.mode+"-runtime-"+strconv.Itoa(s.runtimeMajor))
		}
		for _, q := range s.platform.qualifiers() {
			names = append(names, s.mode+"-"+q)
		}
	}

	var out []map[string]string
	for _, name := range names {
		if section := s.doc.Section(name); section != nil {
			out = append(out, section)
		}
	}
	return out
}

// decl returns the declaration for name; undeclared attributes behave
// as modal strings defaulting to empty.
func (s *Store) decl(name string) Decl {
	if d, ok := s.reg.Lookup(name); ok {
		return d
	}
	return Decl{Name: name, Kind: String, Modal: true}
}

// rawScalar finds the highest-precedence non-empty value.
func (s *Store) rawScalar(name string, modal bool) (string, bool) {
	sections := s.sections(modal)
	for i := len(sections) - 1; i >= 0; i-- {
		if v := strings.TrimSpace(sections[i][name]); v != "" {
			return v, true
		}
	}
	return "", false
}

// rawValues collects all non-empty values, lowest precedence first.
func (s *Store) rawValues(name string, modal bool) []string {
	var out []string
	for _, section := range s.sections(modal) {
		if v := strings.TrimSpace(section[name]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Has reports whether the attribute resolves to a non-empty value or
// carries a non-empty default.
func (s *Store) Has(name string) bool {
	d := s.decl(name)
	switch d.Kind {
	case List, Set, Map:
		if len(s.rawValues(name, d.Modal)) > 0 {
			return true
		}
	default:
		if _, ok := s.rawScalar(name, d.Modal); ok {
			return true
		}
	}
	return d.Default != nil
}

// GetString resolves a scalar string attribute.
func (s *Store) GetString(name string) string {
	d := s.decl(name)
	if v, ok := s.rawScalar(name, d.Modal); ok {
		return v
	}
	if def, ok := d.Default.(string); ok {
		return def
	}
	return ""
}

// GetReference resolves a reference-kind attribute to its raw
// descriptor string; the reference resolver turns it into paths.
func (s *Store) GetReference(name string) string {
	return s.GetString(name)
}

// GetBool resolves a boolean attribute.
func (s *Store) GetBool(name string) (bool, error) {
	d := s.decl(name)
	raw, ok := s.rawScalar(name, d.Modal)
	if !ok {
		if def, ok := d.Default.(bool); ok {
			return def, nil
		}
		return false, nil
	}
	s.ectx.Set(errctx.KindAttribute, name, raw)
	v, err := strconv.ParseBool(strings.ToLower(raw))
	if err != nil {
		return false, fmt.Errorf("attribute %s is not a boolean: %q", name, raw)
	}
	return v, nil
}

// GetInt resolves an integer attribute.
func (s *Store) GetInt(name string) (int64, error) {
	d := s.decl(name)
	raw, ok := s.rawScalar(name, d.Modal)
	if !ok {
		if def, ok := d.Default.(int64); ok {
			return def, nil
		}
		if def, ok := d.Default.(int); ok {
			return int64(def), nil
		}
		return 0, nil
	}
	s.ectx.Set(errctx.KindAttribute, name, raw)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s is not an integer: %q", name, raw)
	}
	return v, nil
}

// GetFloat resolves a floating-point attribute.
func (s *Store) GetFloat(name string) (float64, error) {
	d := s.decl(name)
	raw, ok := s.rawScalar(name, d.Modal)
	if !ok {
		if def, ok := d.Default.(float64); ok {
			return def, nil
		}
		return 0, nil
	}
	s.ectx.Set(errctx.KindAttribute, name, raw)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s is not a number: %q", name, raw)
	}
	return v, nil
}

// GetList resolves a list attribute: whitespace-separated values
// concatenated across applicable sections, order preserved,
// duplicates kept.
func (s *Store) GetList(name string) []string {
	d := s.decl(name)
	var out []string
	for _, raw := range s.rawValues(name, d.Modal) {
		out = append(out, strings.Fields(raw)...)
	}
	if out == nil {
		if def, ok := d.Default.([]string); ok {
			return def
		}
	}
	return out
}

// GetSet resolves a set attribute: the union across applicable
// sections, first-seen order, exact duplicates dropped.
func (s *Store) GetSet(name string) []string {
	d := s.decl(name)
	seen := make(map[string]bool)
	var out []string
	for _, raw := range s.rawValues(name, d.Modal) {
		for _, item := range strings.Fields(raw) {
			if !seen[item] {
				seen[item] = true
				out = append(out, item)
			}
		}
	}
	if out == nil {
		if def, ok := d.Default.([]string); ok {
			return def
		}
	}
	return out
}

// GetMap resolves a map attribute: whitespace-separated "key=value"
// entries merged across applicable sections, higher-precedence
// sections overriding per key; key insertion order is preserved from
// first sighting.
func (s *Store) GetMap(name string) map[string]string {
	d := s.decl(name)
	out := make(map[string]string)
	for _, raw := range s.rawValues(name, d.Modal) {
		for _, item := range strings.Fields(raw) {
			key, value, found := strings.Cut(item, "=")
			if !found {
				// a bare key means "present with empty value"
				value = ""
			}
			out[key] = value
		}
	}
	if len(out) == 0 {
		if def, ok := d.Default.(map[string]string); ok {
			return def
		}
	}
	return out
}

// MapEntries resolves a map attribute preserving entry order: the
// order keys were first seen, lowest-precedence section first, with
// later sections overriding values in place.
func (s *Store) MapEntries(name string) []MapEntry {
	d := s.decl(name)
	index := make(map[string]int)
	var out []MapEntry
	for _, raw := range s.rawValues(name, d.Modal) {
		for _, item := range strings.Fields(raw) {
			key, value, _ := strings.Cut(item, "=")
			if i, ok := index[key]; ok {
				out[i].Value = value
				continue
			}
			index[key] = len(out)
			out = append(out, MapEntry{Key: key, Value: value})
		}
	}
	return out
}

// MapEntry is one ordered key/value pair of a map attribute.
type MapEntry struct {
	Key   string
	Value string
}
