package report

import (
	"fmt"
	"strings"
)

// Format identifies an output document format.
type Format string

const (
	FormatDOCX Format = "docx"
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
	FormatHTML Format = "html"
	// FormatBoth writes a DOCX and a PDF.
	FormatBoth Format = "both"
)

// ParseFormat validates a user supplied format name. An empty name stays
// empty and means the configured default.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatDOCX, FormatPDF, FormatXLSX, FormatHTML, FormatBoth, "":
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// Expand resolves composite formats into the concrete ones to write.
func (f Format) Expand() []Format {
	if f == FormatBoth {
		return []Format{FormatDOCX, FormatPDF}
	}
	return []Format{f}
}

// Result item kinds.
const (
	ResultText  = "text"
	ResultTable = "table"
	ResultImage = "image"
)

// Trial table layouts.
const (
	LayoutEven        = "Even columns"
	LayoutReasonsWide = "Reasons wide"
	LayoutCompact     = "Compact"
)

// TrialLayouts lists the accepted trial table layouts.
var TrialLayouts = []string{LayoutEven, LayoutReasonsWide, LayoutCompact}

// TableStyles lists the Word table styles offered for tables.
var TableStyles = []string{
	"Table Grid",
	"Light List",
	"Light List Accent 1",
	"Light Grid",
	"Light Grid Accent 1",
	"Medium Grid 1",
	"Medium Grid 1 Accent 1",
	"Medium Shading 1",
	"Medium Shading 1 Accent 1",
}

// DefaultTableStyle is used when a style is empty or unknown.
const DefaultTableStyle = "Table Grid"

// TrialRow is one row of the trial history table.
type TrialRow struct {
	Number  string `json:"number"`
	Issue   string `json:"issue"`
	Reasons string `json:"reasons"`
}

// ResultItem is one entry of the results section.
type ResultItem struct {
	Title      string     `json:"title"`
	Kind       string     `json:"kind"`
	Content    string     `json:"content"`
	Images     []string   `json:"images"`
	Caption    string     `json:"caption"`
	Table      [][]string `json:"table_data"`
	TableStyle string     `json:"table_style"`
	// Source is an optional .xlsx workbook the table is read from.
	Source string `json:"source,omitempty"`
}

// EmailEntry is one row of the customer correspondence table.
type EmailEntry struct {
	Date           string `json:"date"`
	Customer       string `json:"customer"`
	Correspondence string `json:"correspondence"`
}

// Branding holds optional images placed on every page.
type Branding struct {
	HeaderImage string `json:"header_path"`
	FooterImage string `json:"footer_path"`
	Logo        string `json:"logo_path"`
}

// ExportOptions holds where and how the report is written.
type ExportOptions struct {
	OutDir string `json:"out_dir"`
	Format Format `json:"format"`
}

// IncludeKeys lists every section toggle in document order.
var IncludeKeys = []string{
	"sec_general", "t_plain", "t_objectives", "t_methods", "t_rm", "t_ins", "t_proc",
	"t_trial", "t_results", "t_conc", "t_misc", "t_refs",
	"sec_reg", "sec_scale", "sec_quality", "sec_commercial",
}

// Project is the complete state of the report form.
type Project struct {
	Fields      Fields
	Trials      []TrialRow
	TrialLayout string
	TrialStyle  string
	Results     []ResultItem
	Emails      []EmailEntry
	Branding    Branding
	Export      ExportOptions
	Include     map[string]bool
}

// NewProject returns an empty project with every section included.
func NewProject() *Project {
	p := &Project{
		Fields:      make(Fields),
		TrialLayout: LayoutEven,
		TrialStyle:  DefaultTableStyle,
		Include:     make(map[string]bool, len(IncludeKeys)),
	}
	for _, k := range IncludeKeys {
		p.Include[k] = true
	}
	return p
}

// Included reports whether a section toggle is on. Unknown or unset
// toggles count as included.
func (p *Project) Included(key string) bool {
	if key == "" || p.Include == nil {
		return true
	}
	v, ok := p.Include[key]
	return !ok || v
}

// Title returns the project title field.
func (p *Project) Title() string {
	return p.Fields.Get(FieldProjectTitle)
}

// Clone returns a deep copy so renderers never observe later edits.
func (p *Project) Clone() *Project {
	out := *p
	out.Fields = p.Fields.Clone()
	out.Trials = append([]TrialRow(nil), p.Trials...)
	out.Emails = append([]EmailEntry(nil), p.Emails...)
	out.Results = make([]ResultItem, len(p.Results))
	for i, r := range p.Results {
		r.Images = append([]string(nil), r.Images...)
		if r.Table != nil {
			tbl := make([][]string, len(r.Table))
			for j, row := range r.Table {
				tbl[j] = append([]string(nil), row...)
			}
			r.Table = tbl
		}
		out.Results[i] = r
	}
	if p.Include != nil {
		out.Include = make(map[string]bool, len(p.Include))
		for k, v := range p.Include {
			out.Include[k] = v
		}
	}
	return &out
}

// Normalize trims entered values and applies the defaults the form
// would have shown.
func (p *Project) Normalize() {
	if p.Fields == nil {
		p.Fields = make(Fields)
	}
	for k, v := range p.Fields {
		p.Fields[k] = strings.TrimSpace(v)
	}
	if !contains(TrialLayouts, p.TrialLayout) {
		p.TrialLayout = LayoutEven
	}
	if !contains(TableStyles, p.TrialStyle) {
		p.TrialStyle = DefaultTableStyle
	}
	trials := p.Trials[:0]
	for _, t := range p.Trials {
		t.Number, t.Issue, t.Reasons = strings.TrimSpace(t.Number), strings.TrimSpace(t.Issue), strings.TrimSpace(t.Reasons)
		if t.Number == "" && t.Issue == "" && t.Reasons == "" {
			continue
		}
		trials = append(trials, t)
	}
	p.Trials = trials
	for i := range p.Results {
		r := &p.Results[i]
		r.Title = strings.TrimSpace(r.Title)
		if r.Title == "" {
			r.Title = "Untitled"
		}
		r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
		if r.Kind == "" {
			r.Kind = ResultText
		}
		if !contains(TableStyles, r.TableStyle) {
			r.TableStyle = DefaultTableStyle
		}
		r.Caption = strings.TrimSpace(r.Caption)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
