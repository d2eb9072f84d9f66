package render

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"rdreport/internal/layout"
	"rdreport/internal/report"
)

var headingNumber = regexp.MustCompile(`^(\d+(?:\.\d+)*)\.?\s`)

// trial table column widths in preview pixels, per layout
var trialWidths = map[string][]float64{
	report.LayoutEven:        {120, 280, 280},
	report.LayoutReasonsWide: {100, 200, 400},
	report.LayoutCompact:     {90, 220, 310},
}

// Compose merges the project into the template. The project is cloned so
// later edits in the form never reach the document.
func Compose(ctx context.Context, tmpl *layout.Template, p *report.Project) (*Document, error) {
	if tmpl == nil {
		return nil, &Error{Kind: KindTemplate, Op: "compose", Err: fmt.Errorf("no template loaded")}
	}
	p = p.Clone()
	p.Normalize()

	c := &composer{
		ctx:  ctx,
		tmpl: tmpl,
		p:    p,
		doc: &Document{
			Title:    p.Fields.Get(tmpl.Title),
			Author:   p.Fields.Get(report.FieldResearcher),
			Date:     documentDate(p.Fields.Get(report.FieldReportDate)),
			Styles:   tmpl.Styles,
			Branding: existingBranding(p.Branding),
		},
	}
	c.add(Element{Kind: ElemTitle, Text: c.doc.Title})
	if err := c.sections(tmpl.Sections, 1); err != nil {
		return nil, err
	}
	return c.doc, nil
}

type composer struct {
	ctx  context.Context
	tmpl *layout.Template
	p    *report.Project
	doc  *Document
}

func (c *composer) add(e Element) {
	c.doc.Elements = append(c.doc.Elements, e)
}

func (c *composer) sections(secs []layout.Section, depth int) error {
	for _, s := range secs {
		if err := c.ctx.Err(); err != nil {
			return err
		}
		if !c.p.Included(s.Toggle) {
			continue
		}
		c.add(Element{Kind: ElemHeading, Text: s.Heading, Level: clampLevel(depth)})
		for _, b := range s.Blocks {
			if err := c.block(s, b, depth); err != nil {
				return err
			}
		}
		if err := c.sections(s.Children, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (c *composer) block(s layout.Section, b layout.Block, depth int) error {
	level := b.Level
	if level == 0 {
		level = bodyLevel(depth)
	}
	f := c.p.Fields

	switch b.Kind {
	case layout.BlockText:
		if v := f.Get(b.Field); v != "" {
			c.add(Element{Kind: ElemParagraph, Text: v, Level: level})
		}
	case layout.BlockList, layout.BlockNumbered:
		for i, item := range f.Lines(b.Field) {
			c.add(Element{
				Kind:     ElemListItem,
				Text:     item,
				Level:    level,
				Numbered: b.Kind == layout.BlockNumbered,
				Number:   i + 1,
			})
		}
	case layout.BlockKeyValue:
		t := &Table{
			Style:    report.DefaultTableStyle,
			Widths:   fractions([]float64{2.2, bodyWidthInches - 2.2}),
			KeyValue: true,
		}
		for _, r := range b.Rows {
			t.Rows = append(t.Rows, []string{r.Label, f.Get(r.Field)})
		}
		c.add(Element{Kind: ElemTable, Level: level, Table: t})
	case layout.BlockSmart:
		for _, r := range b.Rows {
			if v := f.Get(r.Field); v != "" {
				c.add(Element{Kind: ElemParagraph, Text: r.Label + ": " + v, Level: level})
			}
		}
	case layout.BlockTrials:
		if len(c.p.Trials) == 0 {
			return nil
		}
		t := &Table{
			Header: []string{"Trial#", "Issue", "Possible Reasons"},
			Style:  c.p.TrialStyle,
			Widths: fractions(trialWidths[c.p.TrialLayout]),
		}
		for _, tr := range c.p.Trials {
			t.Rows = append(t.Rows, []string{tr.Number, tr.Issue, tr.Reasons})
		}
		c.add(Element{Kind: ElemTable, Level: level, Table: t})
	case layout.BlockResults:
		return c.results(s)
	case layout.BlockEmails:
		if len(c.p.Emails) == 0 {
			return nil
		}
		t := &Table{
			Header: []string{"Date", "Customer Name", "Correspondence"},
			Style:  report.DefaultTableStyle,
			Widths: fractions([]float64{1.3, 2.0, 3.7}),
		}
		for _, e := range c.p.Emails {
			t.Rows = append(t.Rows, []string{e.Date, e.Customer, e.Correspondence})
		}
		c.add(Element{Kind: ElemTable, Level: level, Table: t})
	default:
		return &Error{Kind: KindTemplate, Op: "compose", Err: fmt.Errorf("section %q: unknown block kind %q", s.ID, b.Kind)}
	}
	return nil
}

func (c *composer) results(s layout.Section) error {
	prefix := ""
	if m := headingNumber.FindStringSubmatch(s.Heading); m != nil {
		prefix = m[1]
	}

	for i, it := range c.p.Results {
		switch it.Kind {
		case report.ResultText:
			title := it.Title
			if prefix != "" {
				title = fmt.Sprintf("%s.%d. %s", prefix, i+1, it.Title)
			}
			c.add(Element{Kind: ElemHeading, Text: title, Level: 3})
			for _, ln := range report.SplitLines(it.Content) {
				c.add(Element{Kind: ElemParagraph, Text: ln, Level: 3})
			}

		case report.ResultTable:
			c.add(Element{Kind: ElemHeading, Text: it.Title, Level: 3})
			data, err := resultTable(it)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				if v := strings.TrimSpace(it.Content); v != "" {
					c.add(Element{Kind: ElemParagraph, Text: v, Level: 3})
				}
				continue
			}
			t := &Table{Header: data[0], Rows: data[1:], Style: it.TableStyle}
			n := t.Columns()
			t.Header = padRow(t.Header, n)
			for j := range t.Rows {
				t.Rows[j] = padRow(t.Rows[j], n)
			}
			t.Widths = evenWidths(n)
			c.add(Element{Kind: ElemTable, Level: 3, Table: t})

		case report.ResultImage:
			var imgs []string
			for _, path := range it.Images {
				if fileExists(path) {
					imgs = append(imgs, path)
				}
			}
			if len(imgs) == 0 {
				continue
			}
			if it.Title != "" {
				c.add(Element{Kind: ElemHeading, Text: it.Title, Level: 3})
			}
			for _, path := range imgs {
				c.add(Element{
					Kind:  ElemImage,
					Level: 3,
					Image: &Image{Path: path, Caption: it.Caption, Width: resultImageWidth},
				})
			}
		}
	}
	return nil
}

// resultTable picks the table data of a result: explicit cells, then the
// source workbook, then the pasted text.
func resultTable(it report.ResultItem) ([][]string, error) {
	if len(it.Table) > 0 {
		return cloneRows(it.Table), nil
	}
	if it.Source != "" {
		rows, err := ReadWorkbookTable(it.Source)
		if err != nil {
			return nil, &Error{Kind: KindIO, Op: "read table source", Path: it.Source, Err: err}
		}
		return rows, nil
	}
	return report.ParseTable(it.Content), nil
}

// documentDate is the report date at noon UTC, or a fixed epoch when the
// date is missing, so that output never depends on the wall clock.
func documentDate(s string) time.Time {
	if d, err := time.Parse(report.DateLayout, s); err == nil {
		return d.Add(12 * time.Hour)
	}
	return time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
}

func existingBranding(b report.Branding) report.Branding {
	if !fileExists(b.HeaderImage) {
		b.HeaderImage = ""
	}
	if !fileExists(b.FooterImage) {
		b.FooterImage = ""
	}
	if !fileExists(b.Logo) {
		b.Logo = ""
	}
	return b
}

func fileExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

func clampLevel(depth int) int {
	if depth > 3 {
		return 3
	}
	return depth
}

func bodyLevel(depth int) int {
	if depth >= 3 {
		return 3
	}
	return 2
}

func fractions(ws []float64) []float64 {
	if len(ws) == 0 {
		return nil
	}
	total := 0.0
	for _, w := range ws {
		total += w
	}
	out := make([]float64, len(ws))
	for i, w := range ws {
		out[i] = w / total
	}
	return out
}

func evenWidths(n int) []float64 {
	if n == 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

func padRow(row []string, n int) []string {
	for len(row) < n {
		row = append(row, "")
	}
	return row
}

func cloneRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
