package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
)

const (
	mmPerInch = 25.4
	ptToMM    = mmPerInch / 72

	pdfSideMargin   = 0.75 * mmPerInch
	pdfTopMargin    = 1.35 * mmPerInch
	pdfBottomMargin = 1.2 * mmPerInch

	// logo mark sits in the top corner above the header band
	logoMarkHeight = 0.25 * mmPerInch
	logoMarkTop    = 0.1 * mmPerInch
)

// PDFRenderer writes an A4 PDF with header and footer bands.
type PDFRenderer struct{}

// NewPDF returns the PDF renderer.
func NewPDF() *PDFRenderer { return &PDFRenderer{} }

func (r *PDFRenderer) GetMimeType() string { return "application/pdf" }

func (r *PDFRenderer) GetFileExtension() string { return "pdf" }

// Render writes doc as PDF to w.
func (r *PDFRenderer) Render(ctx context.Context, doc *Document, w io.Writer) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfSideMargin, pdfTopMargin, pdfSideMargin)
	pdf.SetAutoPageBreak(true, pdfBottomMargin)
	pdf.SetCreationDate(doc.Date)
	pdf.SetModificationDate(doc.Date)
	pdf.SetCatalogSort(true)
	pdf.SetTitle(doc.Title, true)
	pdf.SetAuthor(doc.Author, true)
	pdf.SetCreator("rdreport", false)

	p := &pdfWriter{pdf: pdf, doc: doc, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	pageW, pageH := pdf.GetPageSize()
	p.pageH = pageH
	p.bodyW = pageW - 2*pdfSideMargin

	header, hasHeader := p.register(doc.Branding.HeaderImage)
	footer, hasFooter := p.register(doc.Branding.FooterImage)
	logo, hasLogo := p.register(doc.Branding.Logo)
	pdf.SetHeaderFunc(func() {
		if hasLogo {
			p.mark(logo, pageW)
		}
		if hasHeader {
			p.band(header, 0.35*mmPerInch)
		}
	})
	pdf.SetFooterFunc(func() {
		if hasFooter {
			p.band(footer, pageH-0.35*mmPerInch-bandInches*mmPerInch)
		}
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetXY(pageW-pdfSideMargin-20, pageH-0.25*mmPerInch-4)
		pdf.CellFormat(20, 4, strconv.Itoa(pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()
	for _, e := range doc.Elements {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.element(e)
		if pdf.Err() {
			return pdf.Error()
		}
	}
	return pdf.Output(w)
}

type pdfImage struct {
	name string
	pic  picture
}

type pdfWriter struct {
	pdf    *fpdf.Fpdf
	doc    *Document
	tr     func(string) string
	bodyW  float64
	pageH  float64
	images int
}

func (p *pdfWriter) register(path string) (pdfImage, bool) {
	pic, ok := loadPicture(path)
	if !ok {
		return pdfImage{}, false
	}
	p.images++
	img := pdfImage{name: fmt.Sprintf("img%d", p.images), pic: pic}
	p.pdf.RegisterImageOptionsReader(img.name, fpdf.ImageOptions{ImageType: pdfImageType(pic.Format)}, bytes.NewReader(pic.Data))
	return img, !p.pdf.Err()
}

func pdfImageType(format string) string {
	switch format {
	case "jpeg":
		return "JPG"
	case "gif":
		return "GIF"
	}
	return "PNG"
}

// band draws a branding image fitted into a 0.5in strip at y.
func (p *pdfWriter) band(img pdfImage, y float64) {
	w := p.bodyW
	h := img.pic.heightFor(w)
	if limit := bandInches * mmPerInch; h > limit {
		w = w * limit / h
		h = limit
	}
	x := pdfSideMargin + (p.bodyW-w)/2
	p.pdf.ImageOptions(img.name, x, y, w, h, false, fpdf.ImageOptions{ImageType: pdfImageType(img.pic.Format)}, 0, "")
}

// mark draws the logo at the top right corner of the page.
func (p *pdfWriter) mark(img pdfImage, pageW float64) {
	h := logoMarkHeight
	w := img.pic.widthFor(h)
	p.pdf.ImageOptions(img.name, pageW-pdfSideMargin-w, logoMarkTop, w, h, false, fpdf.ImageOptions{ImageType: pdfImageType(img.pic.Format)}, 0, "")
}

func lineHeight(size float64) float64 { return size * ptToMM * 1.2 }

func (p *pdfWriter) element(e Element) {
	pdf, st := p.pdf, p.doc.Styles
	switch e.Kind {
	case ElemTitle:
		pdf.SetFont("Helvetica", "B", st.Title.Size)
		pdf.MultiCell(0, lineHeight(st.Title.Size), p.tr(e.Text), "", "C", false)
		pdf.Ln(3)

	case ElemHeading:
		hs := st.Heading(e.Level)
		if e.Level == 1 {
			pdf.Ln(2)
		}
		pdf.Ln(1.5)
		p.keepTogether(3 * lineHeight(hs.Size))
		pdf.SetFont("Helvetica", "B", hs.Size)
		indent := hs.Indent * mmPerInch
		pdf.SetX(pdfSideMargin + indent)
		pdf.MultiCell(p.bodyW-indent, lineHeight(hs.Size), p.tr(e.Text), "", "L", false)
		pdf.Ln(1)

	case ElemParagraph:
		pdf.SetFont("Helvetica", "", st.Body.Size)
		indent := st.BodyIndent(e.Level) * mmPerInch
		pdf.SetX(pdfSideMargin + indent)
		pdf.MultiCell(p.bodyW-indent, lineHeight(st.Body.Size), p.tr(e.Text), "", "L", false)
		pdf.Ln(1.4)

	case ElemListItem:
		pdf.SetFont("Helvetica", "", st.Body.Size)
		indent := st.BodyIndent(e.Level) * mmPerInch
		marker := "•"
		if e.Numbered {
			marker = strconv.Itoa(e.Number) + "."
		}
		lh := lineHeight(st.Body.Size)
		pdf.SetX(pdfSideMargin + indent)
		pdf.CellFormat(6, lh, p.tr(marker), "", 0, "L", false, 0, "")
		pdf.MultiCell(p.bodyW-indent-6, lh, p.tr(e.Text), "", "L", false)
		pdf.Ln(0.8)

	case ElemTable:
		p.table(e.Table)
		pdf.Ln(2)

	case ElemImage:
		img, ok := p.register(e.Image.Path)
		if !ok {
			return
		}
		w := e.Image.Width * mmPerInch
		if w > p.bodyW {
			w = p.bodyW
		}
		h := img.pic.heightFor(w)
		if avail := p.pageH - pdfTopMargin - pdfBottomMargin; h > avail {
			w = w * avail / h
			h = avail
		}
		p.keepTogether(h)
		x := pdfSideMargin + (p.bodyW-w)/2
		y := pdf.GetY()
		pdf.ImageOptions(img.name, x, y, w, h, false, fpdf.ImageOptions{ImageType: pdfImageType(img.pic.Format)}, 0, "")
		pdf.SetY(y + h + 1.5)
		if e.Image.Caption != "" {
			p.element(Element{Kind: ElemParagraph, Text: e.Image.Caption, Level: 3})
		}
	}
}

// keepTogether starts a new page when less than h mm remain.
func (p *pdfWriter) keepTogether(h float64) {
	if p.pdf.GetY()+h > p.pageH-pdfBottomMargin {
		p.pdf.AddPage()
	}
}

func (p *pdfWriter) table(t *Table) {
	pdf, st := p.pdf, p.doc.Styles
	cols := t.Columns()
	if cols == 0 {
		return
	}
	widths := t.Widths
	if len(widths) != cols {
		widths = evenWidths(cols)
	}
	colW := make([]float64, cols)
	for i, f := range widths {
		colW[i] = f * p.bodyW
	}
	lh := lineHeight(st.Body.Size)
	pdf.SetDrawColor(128, 128, 128)
	pdf.SetLineWidth(0.1)
	pdf.SetFillColor(245, 245, 245)

	row := func(cells []string, header bool) {
		lines := make([][]string, cols)
		height := 0
		for i := 0; i < cols; i++ {
			p.cellFont(header || (t.KeyValue && i == 0))
			v := ""
			if i < len(cells) {
				v = p.tr(cells[i])
			}
			lines[i] = splitCell(pdf, v, colW[i]-2)
			if len(lines[i]) > height {
				height = len(lines[i])
			}
		}
		rowH := float64(height)*lh + 2
		if pdf.GetY()+rowH > p.pageH-pdfBottomMargin {
			pdf.AddPage()
			if !header && len(t.Header) > 0 {
				p.tableRow(t.Header, colW, lh, true, t.KeyValue)
			}
		}
		p.drawRow(lines, colW, lh, rowH, header, t.KeyValue)
	}

	if len(t.Header) > 0 {
		row(t.Header, true)
	}
	for _, r := range t.Rows {
		row(r, false)
	}
}

// tableRow repeats a header row on a new page.
func (p *pdfWriter) tableRow(cells []string, colW []float64, lh float64, header, keyValue bool) {
	lines := make([][]string, len(colW))
	height := 1
	for i := range colW {
		p.cellFont(header)
		v := ""
		if i < len(cells) {
			v = p.tr(cells[i])
		}
		lines[i] = splitCell(p.pdf, v, colW[i]-2)
		if len(lines[i]) > height {
			height = len(lines[i])
		}
	}
	p.drawRow(lines, colW, lh, float64(height)*lh+2, header, keyValue)
}

func (p *pdfWriter) drawRow(lines [][]string, colW []float64, lh, rowH float64, header, keyValue bool) {
	pdf := p.pdf
	x, y := pdfSideMargin, pdf.GetY()
	for i, w := range colW {
		style := "D"
		if header {
			style = "FD"
		}
		pdf.Rect(x, y, w, rowH, style)
		p.cellFont(header || (keyValue && i == 0))
		for j, ln := range lines[i] {
			pdf.SetXY(x+1, y+1+float64(j)*lh)
			pdf.CellFormat(w-2, lh, ln, "", 0, "L", false, 0, "")
		}
		x += w
	}
	pdf.SetXY(pdfSideMargin, y+rowH)
}

func (p *pdfWriter) cellFont(bold bool) {
	style := ""
	if bold {
		style = "B"
	}
	p.pdf.SetFont("Helvetica", style, p.doc.Styles.Body.Size)
}

// splitCell wraps text to width, keeping explicit line breaks.
func splitCell(pdf *fpdf.Fpdf, text string, width float64) []string {
	var out []string
	for _, para := range strings.Split(text, "\n") {
		if para == "" {
			out = append(out, "")
			continue
		}
		out = append(out, pdf.SplitText(para, width)...)
	}
	if len(out) == 0 {
		out = []string{""}
	}
	return out
}

var _ Renderer = (*PDFRenderer)(nil)
