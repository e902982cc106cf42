// Package truthset holds the reference document of correct product facts
// that the persona draws on and that scoring grades against.
package truthset

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed universal_cones.json
var universalCones []byte

// Sections the persona prompt relies on
const (
	SectionProduct       = "product"
	SectionCompatibility = "compatibility"
	SectionWorkflow      = "instrumentation_and_workflow"
)

type TruthSet struct {
	raw      []byte
	sections map[string]json.RawMessage
}

// Default returns the truth set compiled into the binary
func Default() (*TruthSet, error) {
	return Parse(universalCones)
}

// Load reads a truth set from disk, or the default when path is empty
func Load(path string) (*TruthSet, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read truth set: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*TruthSet, error) {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("invalid truth set: %w", err)
	}
	for _, name := range []string{SectionProduct, SectionCompatibility, SectionWorkflow} {
		if _, ok := sections[name]; !ok {
			return nil, fmt.Errorf("invalid truth set: missing %q section", name)
		}
	}
	return &TruthSet{raw: data, sections: sections}, nil
}

// Section returns one top-level section as indented JSON, or "" when absent
func (t *TruthSet) Section(name string) string {
	raw, ok := t.sections[name]
	if !ok {
		return ""
	}
	return indent(raw)
}

// String returns the whole document as indented JSON
func (t *TruthSet) String() string {
	return indent(t.raw)
}

func indent(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
