package layout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdreport/internal/report"
)

func TestDefaultLayoutIsValid(t *testing.T) {
	tmpl, err := Default()
	require.NoError(t, err)

	assert.Equal(t, report.FieldProjectTitle, tmpl.Title)
	require.Len(t, tmpl.Sections, 6)
	assert.Equal(t, "1. General Information", tmpl.Sections[0].Heading)
	assert.Equal(t, "6. Commercial", tmpl.Sections[5].Heading)
	assert.Equal(t, 12.0, tmpl.Styles.H1.Size)
	assert.Equal(t, 0.5, tmpl.Styles.H3.Indent)
	assert.NotEmpty(t, tmpl.Symbols)

	var required []string
	for _, f := range tmpl.FieldSpecs() {
		if f.Required {
			required = append(required, f.Key)
		}
	}
	assert.Equal(t, []string{report.FieldProjectTitle}, required)
}

func TestDefaultLayoutCoversProjectFields(t *testing.T) {
	tmpl, err := Default()
	require.NoError(t, err)

	for key := range report.ListFieldKeys {
		f, ok := tmpl.Field(key)
		require.True(t, ok, key)
		assert.True(t, f.Kind.IsList(), key)
	}
	for _, sk := range report.SmartKeys {
		f, ok := tmpl.Field(sk.Key)
		require.True(t, ok, sk.Key)
		assert.Equal(t, "6. Commercial", f.Section)
	}
	f, ok := tmpl.Field(report.FieldReportDate)
	require.True(t, ok)
	assert.Equal(t, report.KindDate, f.Kind)
}

func TestGroupsFollowTopLevelSections(t *testing.T) {
	tmpl, err := Default()
	require.NoError(t, err)

	groups := tmpl.Groups()
	require.Len(t, groups, 6)
	assert.Equal(t, report.FieldProjectTitle, groups[0].Fields[0].Key)

	total := 0
	for _, g := range groups {
		total += len(g.Fields)
	}
	assert.Equal(t, len(tmpl.Fields), total)
}

func TestParseRejectsBrokenLayouts(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "undeclared placeholder",
			yaml: `
fields: [{key: a, label: A}]
sections:
  - {id: s, heading: S, blocks: [{kind: text, field: a}, {kind: text, field: b}]}
`,
			want: `placeholder "b" is not a declared field`,
		},
		{
			name: "declared field never placed",
			yaml: `
fields: [{key: a, label: A}, {key: lost, label: Lost}]
sections:
  - {id: s, heading: S, blocks: [{kind: text, field: a}]}
`,
			want: `field "lost" is never placed`,
		},
		{
			name: "unknown block kind",
			yaml: `
fields: [{key: a, label: A}]
sections:
  - {id: s, heading: S, blocks: [{kind: chart, field: a}]}
`,
			want: `unknown block kind "chart"`,
		},
		{
			name: "duplicate section id",
			yaml: `
fields: [{key: a, label: A}]
sections:
  - {id: s, heading: S, blocks: [{kind: text, field: a}]}
  - {id: s, heading: T}
`,
			want: `section id "s" used twice`,
		},
		{
			name: "no sections",
			yaml: `fields: []`,
			want: "no sections",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "test.yaml")
			var terr *TemplateError
			require.True(t, errors.As(err, &terr), "got %v", err)
			assert.Contains(t, terr.Error(), tt.want)
		})
	}
}

func TestLoadReadsExternalLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	body := `
title: name
fields: [{key: name, label: Name, required: true}, {key: notes, label: Notes, kind: text}]
sections:
  - {id: main, heading: "1. Main", blocks: [{kind: text, field: notes}]}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	tmpl, err := Load(path)
	require.NoError(t, err)
	f, ok := tmpl.Field("name")
	require.True(t, ok)
	assert.Equal(t, report.KindLine, f.Kind)
	assert.Equal(t, "1. Main", f.Section)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
