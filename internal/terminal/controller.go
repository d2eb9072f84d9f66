// Package terminal is the prompt driven form controller. It collects a
// project field by field and hands it to the report service.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"rdreport/internal/layout"
	"rdreport/internal/render"
	"rdreport/internal/report"
	"rdreport/internal/service"
)

// Prompt messages that are not derived from the template.
const (
	MsgOpenProject   = "Start from"
	MsgNewProject    = "New project"
	MsgAllSections   = "Include every section?"
	MsgAddTrial      = "Add a trial row?"
	MsgAddResult     = "Add a result?"
	MsgAddEmail      = "Add a correspondence entry?"
	MsgFormat        = "Export format"
	MsgOutDir        = "Output folder"
	MsgRetry         = "Change the output folder and try again?"
	MsgSaveProject   = "Save this project?"
	MsgProjectName   = "Project name"
	MsgTrialNumber   = "Trial#"
	MsgTrialRenumber = "Trial# for row %d (leave empty to drop the row)"
	MsgTrialIssue    = "Issue"
	MsgTrialReasons  = "Reasons"
	MsgResultKind    = "Result kind"
	MsgResultRekind  = "Kind for result %q"
	MsgResultTitle   = "Result title"
	MsgResultContent = "Content"
	MsgResultSource  = "Workbook (.xlsx, optional)"
	MsgResultImages  = "Image paths, one per line"
	MsgResultCaption = "Caption"
	MsgEmailDate     = "Date"
	MsgEmailCustomer = "Customer"
	MsgEmailBody     = "Correspondence"
)

var formatOptions = []string{
	string(report.FormatBoth),
	string(report.FormatDOCX),
	string(report.FormatPDF),
	string(report.FormatXLSX),
	string(report.FormatHTML),
}

var resultKinds = []string{report.ResultText, report.ResultTable, report.ResultImage}

// Controller walks the user through the report form.
type Controller struct {
	service service.ReportService
	driver  PromptDriver
	logger  *logrus.Logger
}

// NewController creates a terminal form controller.
func NewController(svc service.ReportService, driver PromptDriver, logger *logrus.Logger) *Controller {
	return &Controller{service: svc, driver: driver, logger: logger}
}

// Run collects a project and renders it. It returns nil once a report is
// written, or the last render error when the user declines to try again.
func (c *Controller) Run(ctx context.Context) error {
	p, err := c.start(ctx)
	if err != nil {
		return err
	}
	tmpl := c.service.Template()

	for _, g := range tmpl.Groups() {
		if err := c.driver.Info(ctx, "== "+g.Heading+" =="); err != nil {
			return err
		}
		for _, f := range g.Fields {
			if err := c.askField(ctx, f, p); err != nil {
				return err
			}
		}
	}
	if err := c.askSections(ctx, tmpl, p); err != nil {
		return err
	}
	if err := c.askTrials(ctx, p); err != nil {
		return err
	}
	if err := c.askResults(ctx, p); err != nil {
		return err
	}
	if err := c.askEmails(ctx, p); err != nil {
		return err
	}
	if err := c.askExport(ctx, p); err != nil {
		return err
	}

	if err := c.generate(ctx, tmpl, p); err != nil {
		return err
	}
	return c.offerSave(ctx, p)
}

// start opens a saved project when there is one to choose from.
func (c *Controller) start(ctx context.Context) (*report.Project, error) {
	projects, err := c.service.ListProjects(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to list saved projects")
		return report.NewProject(), nil
	}
	if len(projects) == 0 {
		return report.NewProject(), nil
	}

	options := []string{MsgNewProject}
	for _, pi := range projects {
		options = append(options, pi.Name)
	}
	idx, err := c.driver.Select(ctx, SelectConfig{Message: MsgOpenProject, Options: options})
	if err != nil {
		return nil, err
	}
	if idx <= 0 {
		return report.NewProject(), nil
	}
	p, err := c.service.OpenProject(ctx, options[idx])
	if err != nil {
		if ierr := c.driver.Info(ctx, err.Error()); ierr != nil {
			return nil, ierr
		}
		return report.NewProject(), nil
	}
	return p, nil
}

func (c *Controller) generate(ctx context.Context, tmpl *layout.Template, p *report.Project) error {
	for {
		result, err := c.service.Generate(ctx, p)
		if err == nil {
			return c.reportWritten(ctx, result)
		}

		var verr *report.ValidationError
		var rerr *render.Error
		switch {
		case errors.As(err, &verr):
			if err := c.driver.Info(ctx, verr.Error()); err != nil {
				return err
			}
			if err := c.fixIssues(ctx, tmpl, p, verr); err != nil {
				return err
			}
		case errors.As(err, &rerr):
			if result != nil && len(result.Outputs) > 0 {
				if err := c.reportWritten(ctx, result); err != nil {
					return err
				}
			}
			if err := c.driver.Info(ctx, "The report could not be written: "+rerr.Error()); err != nil {
				return err
			}
			again, err := c.driver.Confirm(ctx, ConfirmConfig{Message: MsgRetry})
			if err != nil {
				return err
			}
			if !again {
				return rerr
			}
			if err := c.askOutDir(ctx, p); err != nil {
				return err
			}
		default:
			return err
		}
	}
}

// fixIssues asks again for every rejected input. Trial rows without a
// number are renumbered or dropped; results with an unknown kind get a new
// kind. It returns verr only when no issue could be asked for.
func (c *Controller) fixIssues(ctx context.Context, tmpl *layout.Template, p *report.Project, verr *report.ValidationError) error {
	// issue indices refer to the normalized rows
	p.Normalize()

	asked := 0
	drop := make(map[int]bool)
	for _, key := range verr.Keys() {
		if f, ok := tmpl.Field(key); ok {
			if err := c.askField(ctx, f, p); err != nil {
				return err
			}
			asked++
			continue
		}
		var i int
		switch {
		case scanIndex(key, "trials[%d].number", &i) && i < len(p.Trials):
			n, err := c.driver.Input(ctx, InputConfig{Message: fmt.Sprintf(MsgTrialRenumber, i+1)})
			if err != nil {
				return err
			}
			if n = strings.TrimSpace(n); n == "" {
				drop[i] = true
			} else {
				p.Trials[i].Number = n
			}
		case scanIndex(key, "results[%d].kind", &i) && i < len(p.Results):
			idx, err := c.driver.Select(ctx, SelectConfig{Message: fmt.Sprintf(MsgResultRekind, p.Results[i].Title), Options: resultKinds})
			if err != nil {
				return err
			}
			p.Results[i].Kind = report.ResultText
			if idx >= 0 && idx < len(resultKinds) {
				p.Results[i].Kind = resultKinds[idx]
			}
		default:
			c.logger.WithField("key", key).Warn("No prompt for rejected input")
			continue
		}
		asked++
	}
	if asked == 0 {
		return verr
	}

	if len(drop) > 0 {
		kept := p.Trials[:0]
		for i, t := range p.Trials {
			if !drop[i] {
				kept = append(kept, t)
			}
		}
		p.Trials = kept
	}
	return nil
}

func scanIndex(key, pattern string, i *int) bool {
	n, err := fmt.Sscanf(key, pattern, i)
	return err == nil && n == 1 && *i >= 0
}

func (c *Controller) reportWritten(ctx context.Context, result *service.GenerateResult) error {
	for _, path := range result.Paths() {
		if err := c.driver.Info(ctx, "Report written: "+path); err != nil {
			return err
		}
	}
	for _, w := range result.Warnings {
		if err := c.driver.Info(ctx, "Warning: "+w); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) offerSave(ctx context.Context, p *report.Project) error {
	save, err := c.driver.Confirm(ctx, ConfirmConfig{Message: MsgSaveProject})
	if err != nil || !save {
		return err
	}
	for {
		name, err := c.driver.Input(ctx, InputConfig{Message: MsgProjectName, Default: p.Fields.Get(report.FieldProjectTitle)})
		if err != nil {
			return err
		}
		key, err := c.service.SaveProject(ctx, name, p)
		if err == nil {
			return c.driver.Info(ctx, "Project saved as "+key)
		}
		if !errors.Is(err, service.ErrInvalidProjectName) {
			return err
		}
		if err := c.driver.Info(ctx, err.Error()); err != nil {
			return err
		}
	}
}

func fieldMessage(f report.FieldSpec) string {
	if f.Required {
		return f.Label + " *"
	}
	return f.Label
}

func (c *Controller) askField(ctx context.Context, f report.FieldSpec, p *report.Project) error {
	var (
		v   string
		err error
	)
	if f.Kind.IsMultiline() {
		v, err = c.driver.TextArea(ctx, TextAreaConfig{Message: fieldMessage(f), Default: p.Fields[f.Key], Help: f.Hint})
	} else {
		v, err = c.driver.Input(ctx, InputConfig{Message: fieldMessage(f), Default: p.Fields[f.Key], Help: f.Hint})
	}
	if err != nil {
		return err
	}
	p.Fields[f.Key] = v
	return nil
}

func (c *Controller) askSections(ctx context.Context, tmpl *layout.Template, p *report.Project) error {
	all, err := c.driver.Confirm(ctx, ConfirmConfig{Message: MsgAllSections, Default: true})
	if err != nil {
		return err
	}
	toggles := sectionToggles(tmpl.Sections)
	for _, t := range toggles {
		if all {
			p.Include[t.key] = true
			continue
		}
		on, err := c.driver.Confirm(ctx, ConfirmConfig{Message: "Include " + t.heading + "?", Default: p.Included(t.key)})
		if err != nil {
			return err
		}
		p.Include[t.key] = on
	}
	return nil
}

type sectionToggle struct {
	key     string
	heading string
}

func sectionToggles(sections []layout.Section) []sectionToggle {
	var out []sectionToggle
	seen := make(map[string]bool)
	var walk func([]layout.Section)
	walk = func(secs []layout.Section) {
		for _, s := range secs {
			if s.Toggle != "" && !seen[s.Toggle] {
				seen[s.Toggle] = true
				out = append(out, sectionToggle{key: s.Toggle, heading: s.Heading})
			}
			walk(s.Children)
		}
	}
	walk(sections)
	return out
}

func (c *Controller) askTrials(ctx context.Context, p *report.Project) error {
	for {
		more, err := c.driver.Confirm(ctx, ConfirmConfig{Message: MsgAddTrial})
		if err != nil || !more {
			return err
		}
		var row report.TrialRow
		if row.Number, err = c.driver.Input(ctx, InputConfig{Message: MsgTrialNumber, Default: fmt.Sprint(len(p.Trials) + 1)}); err != nil {
			return err
		}
		if row.Issue, err = c.driver.TextArea(ctx, TextAreaConfig{Message: MsgTrialIssue}); err != nil {
			return err
		}
		if row.Reasons, err = c.driver.TextArea(ctx, TextAreaConfig{Message: MsgTrialReasons}); err != nil {
			return err
		}
		p.Trials = append(p.Trials, row)
	}
}

func (c *Controller) askResults(ctx context.Context, p *report.Project) error {
	for {
		more, err := c.driver.Confirm(ctx, ConfirmConfig{Message: MsgAddResult})
		if err != nil || !more {
			return err
		}
		idx, err := c.driver.Select(ctx, SelectConfig{Message: MsgResultKind, Options: resultKinds})
		if err != nil {
			return err
		}
		r := report.ResultItem{Kind: report.ResultText, TableStyle: report.DefaultTableStyle}
		if idx >= 0 && idx < len(resultKinds) {
			r.Kind = resultKinds[idx]
		}
		if r.Title, err = c.driver.Input(ctx, InputConfig{Message: MsgResultTitle}); err != nil {
			return err
		}
		switch r.Kind {
		case report.ResultImage:
			var paths string
			if paths, err = c.driver.TextArea(ctx, TextAreaConfig{Message: MsgResultImages}); err != nil {
				return err
			}
			r.Images = report.SplitLines(paths)
			if r.Caption, err = c.driver.Input(ctx, InputConfig{Message: MsgResultCaption}); err != nil {
				return err
			}
		case report.ResultTable:
			if r.Source, err = c.driver.Input(ctx, InputConfig{Message: MsgResultSource}); err != nil {
				return err
			}
			r.Source = strings.TrimSpace(r.Source)
			if r.Source == "" {
				if r.Content, err = c.driver.TextArea(ctx, TextAreaConfig{Message: MsgResultContent, Help: "paste rows from a spreadsheet or CSV"}); err != nil {
					return err
				}
			}
		default:
			if r.Content, err = c.driver.TextArea(ctx, TextAreaConfig{Message: MsgResultContent}); err != nil {
				return err
			}
		}
		p.Results = append(p.Results, r)
	}
}

func (c *Controller) askEmails(ctx context.Context, p *report.Project) error {
	for {
		more, err := c.driver.Confirm(ctx, ConfirmConfig{Message: MsgAddEmail})
		if err != nil || !more {
			return err
		}
		var e report.EmailEntry
		if e.Date, err = c.driver.Input(ctx, InputConfig{Message: MsgEmailDate, Help: "YYYY-MM-DD"}); err != nil {
			return err
		}
		if e.Customer, err = c.driver.Input(ctx, InputConfig{Message: MsgEmailCustomer}); err != nil {
			return err
		}
		if e.Correspondence, err = c.driver.TextArea(ctx, TextAreaConfig{Message: MsgEmailBody}); err != nil {
			return err
		}
		p.Emails = append(p.Emails, e)
	}
}

func (c *Controller) askExport(ctx context.Context, p *report.Project) error {
	current := p.Export.Format
	if current == "" {
		current = c.service.Defaults().Format
	}
	idx, err := c.driver.Select(ctx, SelectConfig{
		Message:      MsgFormat,
		Options:      formatOptions,
		DefaultIndex: indexOf(formatOptions, string(current)),
	})
	if err != nil {
		return err
	}
	if idx >= 0 && idx < len(formatOptions) {
		p.Export.Format = report.Format(formatOptions[idx])
	}
	return c.askOutDir(ctx, p)
}

func (c *Controller) askOutDir(ctx context.Context, p *report.Project) error {
	def := p.Export.OutDir
	if def == "" {
		def = c.service.Defaults().OutputDir
	}
	dir, err := c.driver.Input(ctx, InputConfig{Message: MsgOutDir, Default: def})
	if err != nil {
		return err
	}
	p.Export.OutDir = strings.TrimSpace(dir)
	return nil
}
