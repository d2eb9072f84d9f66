package render

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	xlsxSheet     = "Report"
	xlsxLastCol   = "F"
	xlsxCols      = 6
	xlsxRowPoints = 15.0
	xlsxPixels    = 96.0
)

// XLSXRenderer writes the report as a single worksheet.
type XLSXRenderer struct{}

// NewXLSX returns the spreadsheet renderer.
func NewXLSX() *XLSXRenderer { return &XLSXRenderer{} }

func (r *XLSXRenderer) GetMimeType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (r *XLSXRenderer) GetFileExtension() string { return "xlsx" }

type xlsxStyles struct {
	title, heading, body, header, cell, label int
}

// Render writes doc as an .xlsx workbook to w.
func (r *XLSXRenderer) Render(ctx context.Context, doc *Document, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("xlsx: rename sheet: %w", err)
	}
	st, err := newXLSXStyles(f, doc)
	if err != nil {
		return err
	}
	if err := f.SetColWidth(xlsxSheet, "A", xlsxLastCol, 22); err != nil {
		return fmt.Errorf("xlsx: column width: %w", err)
	}
	stamp := doc.Date.UTC().Format("2006-01-02T15:04:05Z")
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:    doc.Title,
		Creator:  doc.Author,
		Created:  stamp,
		Modified: stamp,
	}); err != nil {
		return fmt.Errorf("xlsx: doc props: %w", err)
	}

	x := &xlsxWriter{f: f, st: st, row: 1}
	for _, e := range doc.Elements {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := x.element(e); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx: write workbook: %w", err)
	}
	return nil
}

func newXLSXStyles(f *excelize.File, doc *Document) (xlsxStyles, error) {
	border := []excelize.Border{
		{Type: "left", Color: "808080", Style: 1},
		{Type: "top", Color: "808080", Style: 1},
		{Type: "bottom", Color: "808080", Style: 1},
		{Type: "right", Color: "808080", Style: 1},
	}
	wrap := &excelize.Alignment{WrapText: true, Vertical: "top"}
	size := doc.Styles.Body.Size

	var st xlsxStyles
	defs := []struct {
		dst   *int
		style *excelize.Style
	}{
		{&st.title, &excelize.Style{Font: &excelize.Font{Bold: true, Size: doc.Styles.Title.Size}, Alignment: &excelize.Alignment{Horizontal: "center"}}},
		{&st.heading, &excelize.Style{Font: &excelize.Font{Bold: true, Size: doc.Styles.H1.Size}}},
		{&st.body, &excelize.Style{Font: &excelize.Font{Size: size}, Alignment: wrap}},
		{&st.header, &excelize.Style{
			Font:      &excelize.Font{Bold: true, Size: size},
			Fill:      excelize.Fill{Type: "pattern", Color: []string{"#F5F5F5"}, Pattern: 1},
			Border:    border,
			Alignment: wrap,
		}},
		{&st.cell, &excelize.Style{Font: &excelize.Font{Size: size}, Border: border, Alignment: wrap}},
		{&st.label, &excelize.Style{Font: &excelize.Font{Bold: true, Size: size}, Border: border, Alignment: wrap}},
	}
	for _, d := range defs {
		id, err := f.NewStyle(d.style)
		if err != nil {
			return st, fmt.Errorf("xlsx: create style: %w", err)
		}
		*d.dst = id
	}
	return st, nil
}

type xlsxWriter struct {
	f   *excelize.File
	st  xlsxStyles
	row int
}

func (x *xlsxWriter) cell(col int) string {
	name, _ := excelize.CoordinatesToCellName(col, x.row)
	return name
}

// line writes text merged across the sheet width starting at col.
func (x *xlsxWriter) line(col int, text string, style int) error {
	from, to := x.cell(col), xlsxLastCol+strconv.Itoa(x.row)
	if err := x.f.SetCellValue(xlsxSheet, from, text); err != nil {
		return err
	}
	if from != to {
		if err := x.f.MergeCell(xlsxSheet, from, to); err != nil {
			return err
		}
	}
	if err := x.f.SetCellStyle(xlsxSheet, from, to, style); err != nil {
		return err
	}
	if n := estimateLines(text, 100); n > 1 {
		if err := x.f.SetRowHeight(xlsxSheet, x.row, float64(n)*xlsxRowPoints); err != nil {
			return err
		}
	}
	x.row++
	return nil
}

func (x *xlsxWriter) element(e Element) error {
	switch e.Kind {
	case ElemTitle:
		return x.line(1, e.Text, x.st.title)
	case ElemHeading:
		if e.Level == 1 {
			x.row++
		}
		return x.line(1, e.Text, x.st.heading)
	case ElemParagraph:
		return x.line(2, e.Text, x.st.body)
	case ElemListItem:
		marker := "•"
		if e.Numbered {
			marker = strconv.Itoa(e.Number) + "."
		}
		if err := x.f.SetCellValue(xlsxSheet, x.cell(2), marker); err != nil {
			return err
		}
		return x.line(3, e.Text, x.st.body)
	case ElemTable:
		return x.table(e.Table)
	case ElemImage:
		return x.image(e.Image)
	}
	return nil
}

func (x *xlsxWriter) table(t *Table) error {
	cols := t.Columns()
	if cols > xlsxCols {
		// wide tables spill past the body columns; widen the extra ones too
		last, _ := excelize.ColumnNumberToName(cols)
		if err := x.f.SetColWidth(xlsxSheet, "G", last, 22); err != nil {
			return err
		}
	}
	write := func(cells []string, header bool) error {
		for i := 0; i < cols; i++ {
			v := ""
			if i < len(cells) {
				v = cells[i]
			}
			ref := x.cell(i + 1)
			if err := x.f.SetCellValue(xlsxSheet, ref, v); err != nil {
				return err
			}
			style := x.st.cell
			switch {
			case header:
				style = x.st.header
			case t.KeyValue && i == 0:
				style = x.st.label
			}
			if err := x.f.SetCellStyle(xlsxSheet, ref, ref, style); err != nil {
				return err
			}
		}
		x.row++
		return nil
	}
	if len(t.Header) > 0 {
		if err := write(t.Header, true); err != nil {
			return err
		}
	}
	for _, r := range t.Rows {
		if err := write(r, false); err != nil {
			return err
		}
	}
	x.row++
	return nil
}

func (x *xlsxWriter) image(img *Image) error {
	pic, ok := loadPicture(img.Path)
	if !ok {
		return nil
	}
	widthPx := img.Width * xlsxPixels
	scale := widthPx / float64(pic.Width)
	ext := "." + pic.Format
	if err := x.f.AddPictureFromBytes(xlsxSheet, x.cell(2), &excelize.Picture{
		Extension: ext,
		File:      pic.Data,
		Format:    &excelize.GraphicOptions{ScaleX: scale, ScaleY: scale, LockAspectRatio: true},
	}); err != nil {
		return fmt.Errorf("xlsx: add picture %s: %w", img.Path, err)
	}
	heightPt := float64(pic.Height) * scale * 72 / xlsxPixels
	x.row += int(heightPt/xlsxRowPoints) + 1
	if img.Caption != "" {
		return x.line(2, img.Caption, x.st.body)
	}
	return nil
}

func estimateLines(text string, width int) int {
	n := 0
	for _, ln := range strings.Split(text, "\n") {
		n += len([]rune(ln))/width + 1
	}
	return n
}

// ReadWorkbookTable returns the rows of the first worksheet of an .xlsx
// file with trailing blank rows removed.
func ReadWorkbookTable(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	for i := range rows {
		for j := range rows[i] {
			rows[i][j] = strings.TrimSpace(rows[i][j])
		}
	}
	for len(rows) > 0 && blankRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	return rows, nil
}

func blankRow(r []string) bool {
	for _, c := range r {
		if c != "" {
			return false
		}
	}
	return true
}

var _ Renderer = (*XLSXRenderer)(nil)
