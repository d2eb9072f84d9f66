package report

import (
	"sort"
	"strings"
)

// FieldKind describes how a form input is collected and rendered.
type FieldKind string

const (
	KindLine     FieldKind = "line"
	KindDate     FieldKind = "date"
	KindText     FieldKind = "text"
	KindList     FieldKind = "list"
	KindNumbered FieldKind = "numbered"
)

// DateLayout is the date format used in file names and document metadata.
// Date fields accept free text; values in this layout date the document.
const DateLayout = "2006-01-02"

// IsMultiline reports whether the input is collected as a text area.
func (k FieldKind) IsMultiline() bool {
	return k == KindText || k == KindList || k == KindNumbered
}

// IsList reports whether each non-blank line is a separate item.
func (k FieldKind) IsList() bool {
	return k == KindList || k == KindNumbered
}

// FieldSpec declares a single form input.
type FieldSpec struct {
	Key      string    `yaml:"key" json:"key"`
	Label    string    `yaml:"label" json:"label"`
	Kind     FieldKind `yaml:"kind" json:"kind"`
	Required bool      `yaml:"required" json:"required"`
	Hint     string    `yaml:"hint" json:"hint,omitempty"`
	Section  string    `yaml:"-" json:"section,omitempty"`
}

// Fields maps a field name to the value entered in the form.
type Fields map[string]string

// Get returns the trimmed value of key.
func (f Fields) Get(key string) string {
	if f == nil {
		return ""
	}
	return strings.TrimSpace(f[key])
}

// Lines returns the non-blank lines of key.
func (f Fields) Lines(key string) []string {
	return SplitLines(f[key])
}

// Set stores value under key, allocating the map if needed.
func (f *Fields) Set(key, value string) {
	if *f == nil {
		*f = make(Fields)
	}
	(*f)[key] = value
}

// Clone returns an independent copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
