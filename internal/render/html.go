package render

import (
	"context"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"

	"rdreport/internal/layout"
	"rdreport/internal/report"
)

//go:embed templates/report.html.tmpl
var htmlTemplates embed.FS

var reportPage = template.Must(template.ParseFS(htmlTemplates, "templates/report.html.tmpl"))

// HTMLRenderer writes a self-contained HTML page; images are inlined.
type HTMLRenderer struct{}

// NewHTML returns the HTML renderer.
func NewHTML() *HTMLRenderer { return &HTMLRenderer{} }

func (r *HTMLRenderer) GetMimeType() string { return "text/html; charset=utf-8" }

func (r *HTMLRenderer) GetFileExtension() string { return "html" }

type htmlBlock struct {
	Kind     string
	Text     string
	Level    int
	Numbered bool
	Items    []string
	Header   []string
	Rows     [][]string
	Widths   []string
	Style    string
	KeyValue bool
	Src      template.URL
	Width    float64
}

type htmlPage struct {
	Title     string
	Author    string
	Date      string
	Body      float64
	TitleSize float64
	H1        layout.TextStyle
	H2        layout.TextStyle
	H3        layout.TextStyle
	Logo      template.URL
	Header    template.URL
	Footer    template.URL
	Blocks    []htmlBlock
}

// Render writes doc as HTML to w.
func (r *HTMLRenderer) Render(ctx context.Context, doc *Document, w io.Writer) error {
	page := htmlPage{
		Title:     doc.Title,
		Author:    doc.Author,
		Date:      doc.Date.Format(report.DateLayout),
		Body:      doc.Styles.Body.Size,
		TitleSize: doc.Styles.Title.Size,
		H1:        doc.Styles.H1,
		H2:        doc.Styles.H2,
		H3:        doc.Styles.H3,
	}
	if pic, ok := loadPicture(doc.Branding.Logo); ok {
		page.Logo = dataURI(pic)
	}
	if pic, ok := loadPicture(doc.Branding.HeaderImage); ok {
		page.Header = dataURI(pic)
	}
	if pic, ok := loadPicture(doc.Branding.FooterImage); ok {
		page.Footer = dataURI(pic)
	}

	for _, e := range doc.Elements {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch e.Kind {
		case ElemTitle:
			page.Blocks = append(page.Blocks, htmlBlock{Kind: "title", Text: e.Text})
		case ElemHeading:
			page.Blocks = append(page.Blocks, htmlBlock{Kind: "heading", Text: e.Text, Level: e.Level})
		case ElemParagraph:
			page.Blocks = append(page.Blocks, htmlBlock{Kind: "paragraph", Text: e.Text, Level: e.Level})
		case ElemListItem:
			n := len(page.Blocks)
			if n > 0 {
				last := &page.Blocks[n-1]
				if last.Kind == "list" && last.Numbered == e.Numbered && last.Level == e.Level && !(e.Numbered && e.Number <= 1) {
					last.Items = append(last.Items, e.Text)
					continue
				}
			}
			page.Blocks = append(page.Blocks, htmlBlock{Kind: "list", Level: e.Level, Numbered: e.Numbered, Items: []string{e.Text}})
		case ElemTable:
			t := e.Table
			widths := make([]string, 0, len(t.Widths))
			for _, f := range t.Widths {
				widths = append(widths, fmt.Sprintf("%.2f", f*100))
			}
			page.Blocks = append(page.Blocks, htmlBlock{
				Kind:     "table",
				Header:   t.Header,
				Rows:     t.Rows,
				Widths:   widths,
				Style:    styleID(t.Style),
				KeyValue: t.KeyValue,
			})
		case ElemImage:
			pic, ok := loadPicture(e.Image.Path)
			if !ok {
				continue
			}
			page.Blocks = append(page.Blocks, htmlBlock{Kind: "image", Text: e.Image.Caption, Src: dataURI(pic), Width: e.Image.Width})
		}
	}

	if err := reportPage.Execute(w, page); err != nil {
		return fmt.Errorf("html: execute template: %w", err)
	}
	return nil
}

func dataURI(p picture) template.URL {
	return template.URL("data:image/" + p.Format + ";base64," + base64.StdEncoding.EncodeToString(p.Data))
}

var _ Renderer = (*HTMLRenderer)(nil)
