package params

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Section is one named group of scalar and array fields from a
// configuration document. Values carry the types encoding/json produces:
// float64 for numbers, string, bool, []any for arrays.
type Section map[string]any

// ConfigDocument is the untyped, nested configuration a run starts from.
// The document is read-only to the rest of the system: translators read
// it once into typed records and nothing downstream touches it again.
//
// On disk the document is a single JSON object holding num_cams plus one
// object per section:
//
//	{"num_cams": 2, "ptv": {...}, "track": {...}, ...}
//
// The same document round-trips to the legacy one-file-per-section text
// directory (see legacy.go).
type ConfigDocument struct {
	NumCams  int
	Sections map[string]Section
}

// NewConfigDocument returns an empty document for the given camera count.
func NewConfigDocument(numCams int) *ConfigDocument {
	return &ConfigDocument{NumCams: numCams, Sections: make(map[string]Section)}
}

// Section returns the named section, or ok=false when absent.
func (d *ConfigDocument) Section(name string) (Section, bool) {
	s, ok := d.Sections[name]
	return s, ok
}

// SetSection replaces the named section wholesale. There is no
// field-level mutation API: translation always consumes whole sections.
func (d *ConfigDocument) SetSection(name string, s Section) {
	d.Sections[name] = s
}

// UnmarshalJSON decodes the flat on-disk layout: the num_cams key is
// lifted out, every other top-level key becomes a section.
func (d *ConfigDocument) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Sections = make(map[string]Section, len(raw))
	for key, msg := range raw {
		if key == "num_cams" {
			if err := json.Unmarshal(msg, &d.NumCams); err != nil {
				return fmt.Errorf("num_cams: %w", err)
			}
			continue
		}
		var sec Section
		if err := json.Unmarshal(msg, &sec); err != nil {
			return fmt.Errorf("section %q: %w", key, err)
		}
		d.Sections[key] = sec
	}
	return nil
}

// MarshalJSON encodes the flat layout produced by UnmarshalJSON.
func (d *ConfigDocument) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Sections)+1)
	out["num_cams"] = d.NumCams
	for name, sec := range d.Sections {
		out[name] = sec
	}
	return json.Marshal(out)
}

// maxDocumentSize caps configuration files read from disk.
const maxDocumentSize = 1 * 1024 * 1024 // 1MB

// LoadDocument reads and decodes a JSON configuration document.
func LoadDocument(path string) (*ConfigDocument, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("parameter file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat parameter file: %w", err)
	}
	if info.Size() > maxDocumentSize {
		return nil, fmt.Errorf("parameter file too large: %d bytes (max %d)", info.Size(), maxDocumentSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file: %w", err)
	}
	doc := &ConfigDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse parameter JSON: %w", err)
	}
	if doc.NumCams < 1 {
		return nil, fmt.Errorf("%w: num_cams", ErrMissingField)
	}
	return doc, nil
}

// SaveDocument writes the document as indented JSON.
func SaveDocument(path string, doc *ConfigDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode parameter JSON: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write parameter file: %w", err)
	}
	return nil
}
