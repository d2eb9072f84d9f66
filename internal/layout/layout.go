// Package layout loads the report template: the declared form fields and
// the numbered section tree their values are merged into.
package layout

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"rdreport/internal/report"
)

//go:embed assets/layout.yaml
var assets embed.FS

const defaultAsset = "assets/layout.yaml"

// BlockKind selects how a block turns field values into document elements.
type BlockKind string

const (
	BlockText     BlockKind = "text"
	BlockList     BlockKind = "list"
	BlockNumbered BlockKind = "numbered"
	BlockKeyValue BlockKind = "keyvalue"
	BlockSmart    BlockKind = "smart"
	BlockTrials   BlockKind = "trials"
	BlockResults  BlockKind = "results"
	BlockEmails   BlockKind = "emails"
)

func (k BlockKind) known() bool {
	switch k {
	case BlockText, BlockList, BlockNumbered, BlockKeyValue, BlockSmart, BlockTrials, BlockResults, BlockEmails:
		return true
	}
	return false
}

// Row pairs a printed label with a field placeholder.
type Row struct {
	Label string `yaml:"label"`
	Field string `yaml:"field"`
}

// Block is one placement inside a section.
type Block struct {
	Kind  BlockKind `yaml:"kind"`
	Field string    `yaml:"field,omitempty"`
	Rows  []Row     `yaml:"rows,omitempty"`
	// Level overrides the body indent level; 0 means the section's own.
	Level int `yaml:"level,omitempty"`
}

// Placeholders returns the field names the block reads.
func (b Block) Placeholders() []string {
	var out []string
	if b.Field != "" {
		out = append(out, b.Field)
	}
	for _, r := range b.Rows {
		out = append(out, r.Field)
	}
	return out
}

// Section is a numbered heading with its own blocks and subsections.
type Section struct {
	ID       string    `yaml:"id"`
	Heading  string    `yaml:"heading"`
	Toggle   string    `yaml:"toggle,omitempty"`
	Blocks   []Block   `yaml:"blocks,omitempty"`
	Children []Section `yaml:"children,omitempty"`
}

// TextStyle is the point size and left indent of one paragraph level.
type TextStyle struct {
	Size   float64 `yaml:"size"`
	Indent float64 `yaml:"indent"`
}

// Styles holds the formatting rules of the document.
type Styles struct {
	Title TextStyle `yaml:"title"`
	H1    TextStyle `yaml:"h1"`
	H2    TextStyle `yaml:"h2"`
	H3    TextStyle `yaml:"h3"`
	Body  TextStyle `yaml:"body"`
}

// Heading returns the style of a heading level, clamped to 1..3.
func (s Styles) Heading(level int) TextStyle {
	switch {
	case level <= 1:
		return s.H1
	case level == 2:
		return s.H2
	default:
		return s.H3
	}
}

// BodyIndent returns the left indent of body text at level.
func (s Styles) BodyIndent(level int) float64 {
	if level >= 3 {
		return s.H3.Indent
	}
	return s.H2.Indent
}

// Symbol is a special character offered by the form for insertion.
type Symbol struct {
	Symbol string `yaml:"symbol" json:"symbol"`
	Name   string `yaml:"name" json:"name"`
}

// Template is the parsed, validated report layout. It is read-only once
// loaded.
type Template struct {
	Title    string             `yaml:"title"`
	Styles   Styles             `yaml:"styles"`
	Symbols  []Symbol           `yaml:"symbols"`
	Fields   []report.FieldSpec `yaml:"fields"`
	Sections []Section          `yaml:"sections"`

	index map[string]int
}

// Group is a top level section with the fields it places, in form order.
type Group struct {
	ID      string
	Heading string
	Fields  []report.FieldSpec
}

// TemplateError lists every problem found in a layout.
type TemplateError struct {
	Source   string
	Problems []string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("invalid report template %s: %s", e.Source, strings.Join(e.Problems, "; "))
}

// Default returns the layout embedded in the binary.
func Default() (*Template, error) {
	data, err := assets.ReadFile(defaultAsset)
	if err != nil {
		return nil, fmt.Errorf("layout: read embedded asset: %w", err)
	}
	return Parse(data, "embedded")
}

// Load reads the layout at path, or the embedded one when path is empty.
func Load(path string) (*Template, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("layout: read %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes and validates a YAML layout.
func Parse(data []byte, source string) (*Template, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, &TemplateError{Source: source, Problems: []string{"file is empty"}}
	}
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, &TemplateError{Source: source, Problems: []string{err.Error()}}
	}
	if err := t.validate(source); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Template) validate(source string) error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	t.index = make(map[string]int, len(t.Fields))
	for i, f := range t.Fields {
		switch {
		case f.Key == "":
			addf("field %d has no key", i)
			continue
		case f.Label == "":
			addf("field %q has no label", f.Key)
		}
		if _, dup := t.index[f.Key]; dup {
			addf("field %q declared twice", f.Key)
			continue
		}
		switch f.Kind {
		case report.KindLine, report.KindDate, report.KindText, report.KindList, report.KindNumbered:
		case "":
			t.Fields[i].Kind = report.KindLine
		default:
			addf("field %q has unknown kind %q", f.Key, f.Kind)
		}
		t.index[f.Key] = i
	}

	if len(t.Sections) == 0 {
		addf("no sections")
	}

	placed := make(map[string]bool, len(t.Fields))
	if t.Title != "" {
		if _, ok := t.index[t.Title]; !ok {
			addf("title references undeclared field %q", t.Title)
		}
		placed[t.Title] = true
		t.setSection(t.Title, t.firstHeading())
	}

	ids := make(map[string]bool)
	var walk func(secs []Section, top string)
	walk = func(secs []Section, top string) {
		for _, s := range secs {
			if s.ID == "" {
				addf("section %q has no id", s.Heading)
			} else if ids[s.ID] {
				addf("section id %q used twice", s.ID)
			}
			ids[s.ID] = true
			if s.Heading == "" {
				addf("section %q has no heading", s.ID)
			}
			group := top
			if group == "" {
				group = s.Heading
			}
			for _, b := range s.Blocks {
				if !b.Kind.known() {
					addf("section %q: unknown block kind %q", s.ID, b.Kind)
					continue
				}
				for _, key := range b.Placeholders() {
					if _, ok := t.index[key]; !ok {
						addf("section %q: placeholder %q is not a declared field", s.ID, key)
						continue
					}
					if !placed[key] {
						t.setSection(key, group)
					}
					placed[key] = true
				}
			}
			walk(s.Children, group)
		}
	}
	walk(t.Sections, "")

	for _, f := range t.Fields {
		if f.Key != "" && !placed[f.Key] {
			addf("field %q is never placed in the document", f.Key)
		}
	}

	if len(problems) > 0 {
		return &TemplateError{Source: source, Problems: problems}
	}
	return nil
}

func (t *Template) setSection(key, heading string) {
	if i, ok := t.index[key]; ok {
		t.Fields[i].Section = heading
	}
}

func (t *Template) firstHeading() string {
	if len(t.Sections) == 0 {
		return ""
	}
	return t.Sections[0].Heading
}

// Field returns the declaration of key.
func (t *Template) Field(key string) (report.FieldSpec, bool) {
	i, ok := t.index[key]
	if !ok {
		return report.FieldSpec{}, false
	}
	return t.Fields[i], true
}

// FieldSpecs returns a copy of the declared fields in form order.
func (t *Template) FieldSpecs() []report.FieldSpec {
	return append([]report.FieldSpec(nil), t.Fields...)
}

// Groups returns the fields grouped by top level section.
func (t *Template) Groups() []Group {
	groups := make([]Group, 0, len(t.Sections))
	pos := make(map[string]int, len(t.Sections))
	for _, s := range t.Sections {
		pos[s.Heading] = len(groups)
		groups = append(groups, Group{ID: s.ID, Heading: s.Heading})
	}
	for _, f := range t.Fields {
		if i, ok := pos[f.Section]; ok {
			groups[i].Fields = append(groups[i].Fields, f)
		}
	}
	return groups
}
