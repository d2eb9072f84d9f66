// Package render merges a project into the report layout and writes the
// result as DOCX, PDF, XLSX or HTML.
package render

import (
	"time"

	"rdreport/internal/layout"
	"rdreport/internal/report"
)

// ElementKind identifies a document element.
type ElementKind int

const (
	ElemTitle ElementKind = iota
	ElemHeading
	ElemParagraph
	ElemListItem
	ElemTable
	ElemImage
)

func (k ElementKind) String() string {
	switch k {
	case ElemTitle:
		return "title"
	case ElemHeading:
		return "heading"
	case ElemParagraph:
		return "paragraph"
	case ElemListItem:
		return "list_item"
	case ElemTable:
		return "table"
	case ElemImage:
		return "image"
	}
	return "unknown"
}

// Table is a grid of cells. Widths are fractions of the printable width.
type Table struct {
	Header []string
	Rows   [][]string
	Style  string
	Widths []float64
	// KeyValue tables print a bold label column and no header row.
	KeyValue bool
}

// Columns returns the number of columns across the header and all rows.
func (t *Table) Columns() int {
	n := len(t.Header)
	if c := report.ColumnCount(t.Rows); c > n {
		n = c
	}
	return n
}

// Image is a picture placed in the body, Width in inches.
type Image struct {
	Path    string
	Caption string
	Width   float64
}

// Element is one block of the composed document.
type Element struct {
	Kind ElementKind
	Text string
	// Level is the heading level (1-3) or the body indent level (2-3).
	Level    int
	Numbered bool
	Number   int
	Table    *Table
	Image    *Image
}

// Document is a project merged into the layout, ready for any renderer.
type Document struct {
	Title    string
	Author   string
	Date     time.Time
	Styles   layout.Styles
	Branding report.Branding
	Elements []Element
}

// Text returns every string in the document in order. Useful for search
// and tests.
func (d *Document) Text() []string {
	out := []string{d.Title}
	for _, e := range d.Elements {
		switch e.Kind {
		case ElemTable:
			out = append(out, e.Table.Header...)
			for _, r := range e.Table.Rows {
				out = append(out, r...)
			}
		case ElemImage:
			out = append(out, e.Image.Caption)
		default:
			out = append(out, e.Text)
		}
	}
	return out
}

// printable width of an A4 page with 0.75in margins
const bodyWidthInches = 7.0

// image width used for result pictures
const resultImageWidth = 5.8
