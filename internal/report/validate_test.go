package report

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpecs() []FieldSpec {
	return []FieldSpec{
		{Key: FieldProjectTitle, Label: "Project Title", Kind: KindLine, Required: true},
		{Key: FieldReportDate, Label: "Report Date", Kind: KindDate},
		{Key: FieldResearcher, Label: "Researcher Name", Kind: KindLine},
		{Key: FieldStartDate, Label: "Start Date", Kind: KindDate},
		{Key: "plain_summary", Label: "Plain Language Summary", Kind: KindText},
	}
}

func validProject() *Project {
	p := NewProject()
	p.Fields[FieldProjectTitle] = "Foliar Zinc Uptake"
	p.Fields[FieldReportDate] = "2024-05-02"
	p.Fields[FieldResearcher] = "J. Doe"
	return p
}

func TestValidateAcceptsCompleteProject(t *testing.T) {
	assert.NoError(t, Validate(validProject(), testSpecs()))
}

func TestValidateNamesMissingTitle(t *testing.T) {
	p := validProject()
	p.Fields[FieldProjectTitle] = "   "

	err := Validate(p, testSpecs())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{FieldProjectTitle}, verr.MissingKeys())
	assert.Contains(t, verr.Error(), "missing required fields: Project Title")
}

func TestValidateOnlyTitleIsRequired(t *testing.T) {
	p := NewProject()
	p.Fields[FieldProjectTitle] = "Foliar Zinc Uptake"

	assert.NoError(t, Validate(p, testSpecs()))
}

func TestValidateReportsAllMissingFieldsAtOnce(t *testing.T) {
	specs := testSpecs()
	specs[1].Required = true
	specs[2].Required = true

	err := Validate(NewProject(), specs)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{FieldProjectTitle, FieldReportDate, FieldResearcher}, verr.MissingKeys())
	assert.Contains(t, verr.Error(), "Project Title")
	assert.Contains(t, verr.Error(), "Researcher Name")
}

func TestValidateAcceptsFreeTextDates(t *testing.T) {
	p := validProject()
	p.Fields[FieldReportDate] = "May 2024"
	p.Fields[FieldStartDate] = "02/05/2024"

	assert.NoError(t, Validate(p, testSpecs()))
}

func TestValidateTrialRowsNeedNumber(t *testing.T) {
	p := validProject()
	p.Trials = []TrialRow{{Number: "1", Issue: "foaming"}, {Issue: "settling"}}

	err := Validate(p, testSpecs())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"trials[1].number"}, verr.Keys())
}

func TestValidateRejectsUnknownResultKind(t *testing.T) {
	p := validProject()
	p.Results = []ResultItem{{Title: "Yield", Kind: "chart"}}

	err := Validate(p, testSpecs())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Has("results[0].kind"))
}

func TestNormalizeAppliesFormDefaults(t *testing.T) {
	p := &Project{
		Fields:      Fields{FieldProjectTitle: "  Title  "},
		TrialLayout: "Diagonal",
		Trials:      []TrialRow{{}, {Number: " 2 ", Issue: " clumping "}},
		Results:     []ResultItem{{Kind: "", TableStyle: "Fancy"}},
	}

	p.Normalize()

	assert.Equal(t, "Title", p.Fields[FieldProjectTitle])
	assert.Equal(t, LayoutEven, p.TrialLayout)
	assert.Equal(t, DefaultTableStyle, p.TrialStyle)
	assert.Equal(t, []TrialRow{{Number: "2", Issue: "clumping"}}, p.Trials)
	assert.Equal(t, "Untitled", p.Results[0].Title)
	assert.Equal(t, ResultText, p.Results[0].Kind)
	assert.Equal(t, DefaultTableStyle, p.Results[0].TableStyle)
	assert.Empty(t, p.Export.Format, "an empty format defers to the configured default")
}

func TestCloneIsIndependent(t *testing.T) {
	p := validProject()
	p.Results = []ResultItem{{Title: "T", Kind: ResultTable, Table: [][]string{{"a", "b"}}}}

	c := p.Clone()
	c.Fields[FieldProjectTitle] = "changed"
	c.Results[0].Table[0][0] = "z"
	c.Include["sec_general"] = false

	assert.Equal(t, "Foliar Zinc Uptake", p.Fields[FieldProjectTitle])
	assert.Equal(t, "a", p.Results[0].Table[0][0])
	assert.True(t, p.Included("sec_general"))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Empty(t, f)

	f, err = ParseFormat("both")
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatDOCX, FormatPDF}, f.Expand())

	_, err = ParseFormat("odt")
	assert.Error(t, err)
}
