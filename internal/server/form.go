package server

import (
	"embed"
	"html/template"
	"io"
	"net/url"
	"strings"

	"rdreport/internal/layout"
	"rdreport/internal/report"
	"rdreport/internal/service"
)

//go:embed templates/form.html.tmpl
var formTemplates embed.FS

var formPage = template.Must(template.New("form.html.tmpl").Funcs(template.FuncMap{
	"lines": func(s []string) string { return strings.Join(s, "\n") },
}).ParseFS(formTemplates, "templates/form.html.tmpl"))

// blank rows offered below the filled ones
const (
	spareTrialRows  = 3
	spareEmailRows  = 2
	spareResultRows = 1
)

var resultKinds = []string{report.ResultText, report.ResultTable, report.ResultImage}

var formats = []string{
	string(report.FormatBoth),
	string(report.FormatDOCX),
	string(report.FormatPDF),
	string(report.FormatXLSX),
	string(report.FormatHTML),
}

type fieldView struct {
	Key       string
	Label     string
	Hint      string
	Value     string
	Required  bool
	Multiline bool
	Date      bool
	Error     string
}

type groupView struct {
	Heading string
	Fields  []fieldView
}

type toggleView struct {
	Key   string
	Label string
	On    bool
}

type formView struct {
	Groups      []groupView
	Toggles     []toggleView
	Trials      []report.TrialRow
	TrialLayout string
	TrialStyle  string
	Layouts     []string
	Styles      []string
	Results     []report.ResultItem
	ResultKinds []string
	Emails      []report.EmailEntry
	Branding    report.Branding
	OutDir      string
	Format      string
	Formats     []string
	Symbols     []layout.Symbol
	Projects    []service.ProjectInfo
	ProjectName string
	CSRF        string

	Error    string
	Issues   []report.FieldIssue
	Written  []string
	Warnings []string
	Notice   string
}

// newFormView fills the page model from the project as entered.
func newFormView(tmpl *layout.Template, p *report.Project, defaults service.Defaults) *formView {
	v := &formView{
		TrialLayout: p.TrialLayout,
		TrialStyle:  p.TrialStyle,
		Layouts:     report.TrialLayouts,
		Styles:      report.TableStyles,
		ResultKinds: resultKinds,
		Branding:    p.Branding,
		OutDir:      p.Export.OutDir,
		Format:      string(p.Export.Format),
		Formats:     formats,
		Symbols:     tmpl.Symbols,
	}
	if v.OutDir == "" {
		v.OutDir = defaults.OutputDir
	}
	if v.Format == "" {
		v.Format = string(defaults.Format)
	}

	for _, g := range tmpl.Groups() {
		gv := groupView{Heading: g.Heading}
		for _, f := range g.Fields {
			gv.Fields = append(gv.Fields, fieldView{
				Key:       f.Key,
				Label:     f.Label,
				Hint:      f.Hint,
				Value:     p.Fields[f.Key],
				Required:  f.Required,
				Multiline: f.Kind.IsMultiline(),
				Date:      f.Kind == report.KindDate,
			})
		}
		v.Groups = append(v.Groups, gv)
	}
	v.Toggles = toggles(tmpl.Sections, p)

	v.Trials = append(append([]report.TrialRow(nil), p.Trials...), make([]report.TrialRow, spareTrialRows)...)
	v.Emails = append(append([]report.EmailEntry(nil), p.Emails...), make([]report.EmailEntry, spareEmailRows)...)
	v.Results = append([]report.ResultItem(nil), p.Results...)
	for i := 0; i < spareResultRows; i++ {
		v.Results = append(v.Results, report.ResultItem{Kind: report.ResultText})
	}
	return v
}

// markIssues attaches validation messages to the offending inputs.
func (v *formView) markIssues(issues []report.FieldIssue) {
	v.Issues = issues
	for gi := range v.Groups {
		for fi := range v.Groups[gi].Fields {
			f := &v.Groups[gi].Fields[fi]
			for _, is := range issues {
				if is.Key != f.Key {
					continue
				}
				if is.Reason == report.ReasonMissing {
					f.Error = "required"
				} else {
					f.Error = is.Detail
				}
			}
		}
	}
}

func (v *formView) render(w io.Writer) error {
	return formPage.Execute(w, v)
}

// toggles lists the section switches in document order, labelled with
// the first heading that uses each.
func toggles(sections []layout.Section, p *report.Project) []toggleView {
	var out []toggleView
	seen := make(map[string]bool)
	var walk func([]layout.Section)
	walk = func(secs []layout.Section) {
		for _, s := range secs {
			if s.Toggle != "" && !seen[s.Toggle] {
				seen[s.Toggle] = true
				out = append(out, toggleView{Key: s.Toggle, Label: s.Heading, On: p.Included(s.Toggle)})
			}
			walk(s.Children)
		}
	}
	walk(sections)
	return out
}

// projectFromForm rebuilds the project from a posted form. Every value
// passes through the sanitizer.
func projectFromForm(tmpl *layout.Template, form url.Values) *report.Project {
	p := report.NewProject()
	get := func(key string) string { return sanitizeText(form.Get(key)) }

	for _, f := range tmpl.Fields {
		if v, ok := form["f."+f.Key]; ok && len(v) > 0 {
			p.Fields[f.Key] = sanitizeText(v[0])
		}
	}

	// unchecked boxes are absent from the post
	if form.Get("toggles") == "1" {
		for _, k := range report.IncludeKeys {
			p.Include[k] = form.Get("inc."+k) != ""
		}
	}

	p.TrialLayout = get("trial_layout")
	p.TrialStyle = get("trial_style")
	numbers, issues, reasons := form["trial.number"], form["trial.issue"], form["trial.reasons"]
	for i := range numbers {
		row := report.TrialRow{
			Number:  sanitizeText(numbers[i]),
			Issue:   sanitizeText(at(issues, i)),
			Reasons: sanitizeText(at(reasons, i)),
		}
		if strings.TrimSpace(row.Number+row.Issue+row.Reasons) == "" {
			continue
		}
		p.Trials = append(p.Trials, row)
	}

	dates, customers, bodies := form["email.date"], form["email.customer"], form["email.body"]
	for i := range dates {
		e := report.EmailEntry{
			Date:           sanitizeText(dates[i]),
			Customer:       sanitizeText(at(customers, i)),
			Correspondence: sanitizeText(at(bodies, i)),
		}
		if strings.TrimSpace(e.Date+e.Customer+e.Correspondence) == "" {
			continue
		}
		p.Emails = append(p.Emails, e)
	}

	titles := form["result.title"]
	for i := range titles {
		r := report.ResultItem{
			Title:      sanitizeText(titles[i]),
			Kind:       sanitizeText(at(form["result.kind"], i)),
			Content:    sanitizeText(at(form["result.content"], i)),
			Caption:    sanitizeText(at(form["result.caption"], i)),
			TableStyle: sanitizeText(at(form["result.style"], i)),
			Source:     strings.TrimSpace(sanitizeText(at(form["result.source"], i))),
		}
		r.Images = report.SplitLines(sanitizeText(at(form["result.images"], i)))
		if strings.TrimSpace(r.Title+r.Content+r.Source) == "" && len(r.Images) == 0 {
			continue
		}
		p.Results = append(p.Results, r)
	}

	p.Branding = report.Branding{
		HeaderImage: strings.TrimSpace(get("header_path")),
		FooterImage: strings.TrimSpace(get("footer_path")),
		Logo:        strings.TrimSpace(get("logo_path")),
	}
	p.Export.OutDir = strings.TrimSpace(get("out_dir"))
	if f, err := report.ParseFormat(get("format")); err == nil {
		p.Export.Format = f
	}
	return p
}

func at(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}
