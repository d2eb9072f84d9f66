package render

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"rdreport/internal/layout"
	"rdreport/internal/report"
)

func loadTemplate(t *testing.T) *layout.Template {
	t.Helper()
	tmpl, err := layout.Default()
	require.NoError(t, err)
	return tmpl
}

func sampleProject() *report.Project {
	p := report.NewProject()
	p.Fields[report.FieldProjectTitle] = "Foliar Zinc Uptake"
	p.Fields[report.FieldReportDate] = "2024-05-02"
	p.Fields[report.FieldStartDate] = "2024-01-15"
	p.Fields[report.FieldResearcher] = "J. Doe"
	p.Fields["plain_summary"] = "Customer wants a stable zinc concentrate."
	p.Fields["objectives"] = "Raise uptake by 10%\nKeep pH above 6"
	p.Fields["methods_raw_materials"] = "Zinc sulfate\nCitric acid"
	p.Fields["hazards_text"] = "Exotherm on acid addition"
	p.Fields["smart_s"] = "Deliver a 7% Zn concentrate"
	p.Trials = []report.TrialRow{{Number: "1", Issue: "Gel formation", Reasons: "Low temperature"}}
	p.Results = []report.ResultItem{
		{Title: "Observations", Kind: report.ResultText, Content: "Clear after 2h\nNo sediment"},
		{Title: "Yield", Kind: report.ResultTable, Content: "Dose\tYield\n1 L/ha\t4.2"},
	}
	p.Emails = []report.EmailEntry{{Date: "2024-04-01", Customer: "Acme Ag", Correspondence: "Sample shipped"}}
	return p
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 10))
	for x := 0; x < 40; x++ {
		img.Set(x, 5, color.RGBA{R: 200, A: 255})
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func texts(doc *Document, kind ElementKind) []string {
	var out []string
	for _, e := range doc.Elements {
		if e.Kind == kind {
			out = append(out, e.Text)
		}
	}
	return out
}

func TestComposePlacesValuesInFixedSections(t *testing.T) {
	doc, err := Compose(context.Background(), loadTemplate(t), sampleProject())
	require.NoError(t, err)

	assert.Equal(t, "Foliar Zinc Uptake", doc.Title)
	assert.Equal(t, time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC), doc.Date)

	headings := texts(doc, ElemHeading)
	assert.Contains(t, headings, "1. General Information")
	assert.Contains(t, headings, "2.3.4. Trial History")
	assert.Contains(t, headings, "2.4.1. Observations")
	assert.Contains(t, headings, "Yield")
	assert.Contains(t, headings, "6.12. Email Correspondence")

	all := strings.Join(doc.Text(), "\n")
	for _, want := range []string{
		"J. Doe", "2024-05-02", "Customer wants a stable zinc concentrate.",
		"Raise uptake by 10%", "Zinc sulfate", "Gel formation", "Exotherm on acid addition",
		"Specific: Deliver a 7% Zn concentrate", "No sediment", "4.2", "Acme Ag",
	} {
		assert.Contains(t, all, want)
	}

	var numbered []int
	for _, e := range doc.Elements {
		if e.Kind == ElemListItem && e.Numbered {
			numbered = append(numbered, e.Number)
		}
	}
	assert.Equal(t, []int{1, 2}, numbered)
}

func TestComposeHonoursSectionToggles(t *testing.T) {
	p := sampleProject()
	p.Include["sec_scale"] = false
	p.Include["t_trial"] = false

	doc, err := Compose(context.Background(), loadTemplate(t), p)
	require.NoError(t, err)

	headings := texts(doc, ElemHeading)
	assert.NotContains(t, headings, "4. Scale Up")
	assert.NotContains(t, headings, "4.3. Hazards")
	assert.NotContains(t, headings, "2.3.4. Trial History")
	assert.Contains(t, headings, "2.3.1. Raw Materials")
	assert.NotContains(t, strings.Join(doc.Text(), "\n"), "Exotherm")
}

func TestComposeDoesNotAliasProject(t *testing.T) {
	p := sampleProject()
	doc, err := Compose(context.Background(), loadTemplate(t), p)
	require.NoError(t, err)

	p.Trials[0].Issue = "edited later"
	assert.NotContains(t, strings.Join(doc.Text(), "\n"), "edited later")
}

func TestComposeReadsTableFromWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yield.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Plot", "Yield"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"North", 5.1}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	p := sampleProject()
	p.Results = []report.ResultItem{{Title: "Plots", Kind: report.ResultTable, Source: path}}

	doc, err := Compose(context.Background(), loadTemplate(t), p)
	require.NoError(t, err)

	var tbl *Table
	for _, e := range doc.Elements {
		if e.Kind == ElemTable && len(e.Table.Header) > 0 && e.Table.Header[0] == "Plot" {
			tbl = e.Table
		}
	}
	require.NotNil(t, tbl)
	assert.Equal(t, [][]string{{"North", "5.1"}}, tbl.Rows)

	p.Results[0].Source = filepath.Join(t.TempDir(), "missing.xlsx")
	_, err = Compose(context.Background(), loadTemplate(t), p)
	assert.True(t, IsError(err, KindIO))
}

func TestWriteFileDOCXContainsValues(t *testing.T) {
	doc, err := Compose(context.Background(), loadTemplate(t), sampleProject())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.docx")
	n, err := WriteFile(context.Background(), NewDOCX(), doc, path)
	require.NoError(t, err)
	assert.Positive(t, n)

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	var body string
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			rc.Close()
			require.NoError(t, err)
			body = string(data)
		}
	}
	require.NotEmpty(t, body)
	for _, want := range []string{"Foliar Zinc Uptake", "J. Doe", "2.2. Objectives", "Gel formation", "Acme Ag"} {
		assert.Contains(t, body, want)
	}
}

func TestWriteFileRejectsUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	doc, err := Compose(context.Background(), loadTemplate(t), sampleProject())
	require.NoError(t, err)

	for _, path := range []string{
		filepath.Join(blocker, "report.docx"),
		filepath.Join(dir, "missing", "report.pdf"),
	} {
		_, err := WriteFile(context.Background(), NewPDF(), doc, path)
		var rerr *Error
		require.True(t, errors.As(err, &rerr), "path %s: %v", path, err)
		assert.Equal(t, KindIO, rerr.Kind)
		assert.NoFileExists(t, path)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "not-a-dir", entries[0].Name())
}

type failingRenderer struct{}

func (failingRenderer) GetMimeType() string { return "text/plain" }

func (failingRenderer) GetFileExtension() string { return "txt" }

func (failingRenderer) Render(_ context.Context, _ *Document, w io.Writer) error {
	if _, err := w.Write([]byte("partial")); err != nil {
		return err
	}
	return errors.New("layout exploded")
}

func TestWriteFileRemovesTempOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.html")
	doc := &Document{Title: "x"}

	_, err := WriteFile(context.Background(), failingRenderer{}, doc, path)
	assert.True(t, IsError(err, KindTemplate))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRenderingIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	p := sampleProject()
	p.Branding.HeaderImage = writePNG(t, dir, "header.png")
	p.Branding.FooterImage = writePNG(t, dir, "footer.png")
	p.Branding.Logo = writePNG(t, dir, "logo.png")
	p.Results = append(p.Results, report.ResultItem{
		Title: "Leaf", Kind: report.ResultImage, Images: []string{writePNG(t, dir, "leaf.png")}, Caption: "Leaf at day 7",
	})

	for _, f := range []report.Format{report.FormatDOCX, report.FormatPDF, report.FormatHTML, report.FormatXLSX} {
		t.Run(string(f), func(t *testing.T) {
			r, err := For(f)
			require.NoError(t, err)

			var outputs [][]byte
			for _, name := range []string{"a", "b"} {
				doc, err := Compose(context.Background(), loadTemplate(t), p)
				require.NoError(t, err)
				path := filepath.Join(dir, name+"."+r.GetFileExtension())
				_, err = WriteFile(context.Background(), r, doc, path)
				require.NoError(t, err)
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				outputs = append(outputs, data)
			}
			assert.True(t, bytes.Equal(outputs[0], outputs[1]), "%s output differs between renders", f)
		})
	}
}

func TestHTMLRendererEscapesAndInlines(t *testing.T) {
	dir := t.TempDir()
	p := sampleProject()
	p.Fields["miscellaneous"] = "<script>alert(1)</script>"
	p.Branding.HeaderImage = writePNG(t, dir, "h.png")

	doc, err := Compose(context.Background(), loadTemplate(t), p)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewHTML().Render(context.Background(), doc, &buf))
	out := buf.String()

	assert.Contains(t, out, "&lt;script&gt;")
	assert.NotContains(t, out, "<script>alert")
	assert.Contains(t, out, "data:image/png;base64,")
	assert.Contains(t, out, "<ol class=\"l2\"><li>Raise uptake by 10%</li><li>Keep pH above 6</li></ol>")
}

func TestLogoIsMarkedOnPages(t *testing.T) {
	dir := t.TempDir()
	p := sampleProject()

	renderWith := func(r Renderer, p *report.Project) string {
		doc, err := Compose(context.Background(), loadTemplate(t), p)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, r.Render(context.Background(), doc, &buf))
		return buf.String()
	}

	plainPDF := renderWith(NewPDF(), p)
	assert.NotContains(t, renderWith(NewHTML(), p), `class="logo"`)

	p.Branding.Logo = writePNG(t, dir, "logo.png")
	assert.Contains(t, renderWith(NewHTML(), p), `<img class="logo" src="data:image/png;base64,`)
	assert.Equal(t, 0, strings.Count(plainPDF, "/Subtype /Image"))
	assert.Positive(t, strings.Count(renderWith(NewPDF(), p), "/Subtype /Image"))
}

func TestXLSXRendererWritesWorkbook(t *testing.T) {
	doc, err := Compose(context.Background(), loadTemplate(t), sampleProject())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.xlsx")
	_, err = WriteFile(context.Background(), NewXLSX(), doc, path)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue(xlsxSheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Foliar Zinc Uptake", title)

	rows, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	var flat []string
	for _, r := range rows {
		flat = append(flat, r...)
	}
	assert.Contains(t, flat, "Gel formation")
	assert.Contains(t, flat, "Researcher Name")
}

func TestFileNameAndFormatOf(t *testing.T) {
	day := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "Zn_Cu trial_2024-05-02.docx", FileName("Zn/Cu trial", day, report.FormatDOCX))
	assert.Equal(t, "report_2024-05-02.pdf", FileName("  ", day, report.FormatPDF))

	f, err := FormatOf("/tmp/out/Report.PDF")
	require.NoError(t, err)
	assert.Equal(t, report.FormatPDF, f)

	_, err = FormatOf("/tmp/out/report.odt")
	assert.Error(t, err)
}

func TestComposeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compose(ctx, loadTemplate(t), sampleProject())
	assert.ErrorIs(t, err, context.Canceled)
}
