package render

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	twipsPerInch = 1440
	emuPerInch   = 914400

	// A4 with 0.75in side margins
	pageWidthTwips  = 11906
	pageHeightTwips = 16838
	sideMarginTwips = 1080
	bodyWidthTwips  = pageWidthTwips - 2*sideMarginTwips

	bandInches = 0.5
)

const (
	nsW   = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsR   = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	nsWP  = "http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing"
	nsA   = "http://schemas.openxmlformats.org/drawingml/2006/main"
	nsPic = "http://schemas.openxmlformats.org/drawingml/2006/picture"

	relOfficeDoc = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument"
	relCore      = "http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties"
	relApp       = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/extended-properties"
	relStyles    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles"
	relNumbering = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/numbering"
	relHeader    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/header"
	relFooter    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/footer"
	relImage     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
)

// zip entries carry a fixed timestamp so repeated renders match byte for byte
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// DOCXRenderer writes a WordprocessingML package.
type DOCXRenderer struct{}

// NewDOCX returns the Word renderer.
func NewDOCX() *DOCXRenderer { return &DOCXRenderer{} }

func (r *DOCXRenderer) GetMimeType() string {
	return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

func (r *DOCXRenderer) GetFileExtension() string { return "docx" }

// Render writes doc as a .docx package to w.
func (r *DOCXRenderer) Render(ctx context.Context, doc *Document, w io.Writer) error {
	b := &docxBuilder{doc: doc}
	b.docRels = []docxRel{
		{ID: "rId1", Type: relStyles, Target: "styles.xml"},
		{ID: "rId2", Type: relNumbering, Target: "numbering.xml"},
		{ID: "rId3", Type: relHeader, Target: "header1.xml"},
		{ID: "rId4", Type: relFooter, Target: "footer1.xml"},
	}

	header := b.band(doc.Branding.HeaderImage, &b.headerRels, false)
	footer := b.band(doc.Branding.FooterImage, &b.footerRels, true)

	for _, e := range doc.Elements {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.element(e)
	}

	parts := []docxPart{
		{"[Content_Types].xml", b.contentTypes()},
		{"_rels/.rels", relsXML([]docxRel{
			{ID: "rId1", Type: relOfficeDoc, Target: "word/document.xml"},
			{ID: "rId2", Type: relCore, Target: "docProps/core.xml"},
			{ID: "rId3", Type: relApp, Target: "docProps/app.xml"},
		})},
		{"docProps/core.xml", b.coreXML()},
		{"docProps/app.xml", appXML},
		{"word/document.xml", b.documentXML()},
		{"word/styles.xml", b.stylesXML()},
		{"word/numbering.xml", b.numberingXML()},
		{"word/header1.xml", partXML("w:hdr", header)},
		{"word/footer1.xml", partXML("w:ftr", footer)},
		{"word/_rels/document.xml.rels", relsXML(b.docRels)},
		{"word/_rels/header1.xml.rels", relsXML(b.headerRels)},
		{"word/_rels/footer1.xml.rels", relsXML(b.footerRels)},
	}

	zw := zip.NewWriter(w)
	for _, p := range parts {
		if err := writeZipEntry(zw, p.name, []byte(p.body)); err != nil {
			return err
		}
	}
	for _, m := range b.media {
		if err := writeZipEntry(zw, "word/media/"+m.name, m.data); err != nil {
			return err
		}
	}
	return zw.Close()
}

type docxPart struct {
	name string
	body string
}

type docxRel struct {
	ID, Type, Target string
}

type docxMedia struct {
	name string
	data []byte
}

type docxBuilder struct {
	doc        *Document
	body       strings.Builder
	docRels    []docxRel
	headerRels []docxRel
	footerRels []docxRel
	media      []docxMedia
	lists      int // numbered list instances; num ids start at 2
	pics       int
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: zipEpoch})
	if err != nil {
		return fmt.Errorf("docx: create %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("docx: write %s: %w", name, err)
	}
	return nil
}

func (b *docxBuilder) element(e Element) {
	st := b.doc.Styles
	switch e.Kind {
	case ElemTitle:
		b.body.WriteString(paragraph(e.Text, pPr{align: "center", bold: true, size: st.Title.Size, after: 120}))
	case ElemHeading:
		hs := st.Heading(e.Level)
		before := 120
		if e.Level == 1 {
			before = 240
		}
		b.body.WriteString(paragraph(e.Text, pPr{bold: true, size: hs.Size, indent: hs.Indent, before: before, after: 60, keepNext: true}))
	case ElemParagraph:
		b.body.WriteString(paragraph(e.Text, pPr{size: st.Body.Size, indent: st.BodyIndent(e.Level), after: 80}))
	case ElemListItem:
		num := 1
		if e.Numbered {
			if e.Number <= 1 {
				b.lists++
			}
			num = b.lists + 1
		}
		b.body.WriteString(paragraph(e.Text, pPr{size: st.Body.Size, indent: st.BodyIndent(e.Level) + 0.25, hanging: 0.25, numID: num}))
	case ElemTable:
		b.body.WriteString(b.table(e.Table))
	case ElemImage:
		pic, ok := loadPicture(e.Image.Path)
		if !ok {
			return
		}
		rid := b.addMedia(pic, &b.docRels)
		b.body.WriteString(`<w:p><w:pPr><w:jc w:val="center"/></w:pPr>`)
		b.body.WriteString(b.drawing(pic, rid, e.Image.Width))
		b.body.WriteString(`</w:p>`)
		if e.Image.Caption != "" {
			b.body.WriteString(paragraph(e.Image.Caption, pPr{align: "center", size: st.Body.Size, indent: st.BodyIndent(3), after: 120}))
		}
	}
}

// band builds the header or footer content: an optional full-width image
// and, for footers, a right aligned page number.
func (b *docxBuilder) band(path string, rels *[]docxRel, pageNumber bool) string {
	var sb strings.Builder
	if pic, ok := loadPicture(path); ok {
		rid := b.addMedia(pic, rels)
		width := float64(bodyWidthTwips) / twipsPerInch
		if h := pic.heightFor(width); h > bandInches {
			width = width * bandInches / h
		}
		sb.WriteString(`<w:p><w:pPr><w:jc w:val="center"/></w:pPr>`)
		sb.WriteString(b.drawing(pic, rid, width))
		sb.WriteString(`</w:p>`)
	}
	if pageNumber {
		sb.WriteString(`<w:p><w:pPr><w:jc w:val="right"/></w:pPr><w:fldSimple w:instr="PAGE"><w:r><w:t>1</w:t></w:r></w:fldSimple></w:p>`)
	}
	if sb.Len() == 0 {
		sb.WriteString(`<w:p/>`)
	}
	return sb.String()
}

func (b *docxBuilder) addMedia(pic picture, rels *[]docxRel) string {
	b.pics++
	ext := pic.Format
	name := fmt.Sprintf("image%d.%s", b.pics, ext)
	b.media = append(b.media, docxMedia{name: name, data: pic.Data})
	rid := fmt.Sprintf("rId%d", len(*rels)+10)
	*rels = append(*rels, docxRel{ID: rid, Type: relImage, Target: "media/" + name})
	return rid
}

func (b *docxBuilder) drawing(pic picture, rid string, widthInches float64) string {
	cx := int64(widthInches * emuPerInch)
	cy := int64(pic.heightFor(widthInches) * emuPerInch)
	id := b.pics
	return fmt.Sprintf(`<w:r><w:drawing><wp:inline distT="0" distB="0" distL="0" distR="0">`+
		`<wp:extent cx="%d" cy="%d"/><wp:docPr id="%d" name="Picture %d"/>`+
		`<wp:cNvGraphicFramePr><a:graphicFrameLocks noChangeAspect="1"/></wp:cNvGraphicFramePr>`+
		`<a:graphic><a:graphicData uri="%s"><pic:pic>`+
		`<pic:nvPicPr><pic:cNvPr id="%d" name="image%d"/><pic:cNvPicPr/></pic:nvPicPr>`+
		`<pic:blipFill><a:blip r:embed="%s"/><a:stretch><a:fillRect/></a:stretch></pic:blipFill>`+
		`<pic:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="%d" cy="%d"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></pic:spPr>`+
		`</pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing></w:r>`,
		cx, cy, id, id, nsPic, id, id, rid, cx, cy)
}

func (b *docxBuilder) table(t *Table) string {
	var sb strings.Builder
	cols := t.Columns()
	widths := t.Widths
	if len(widths) != cols {
		widths = evenWidths(cols)
	}
	style := styleID(t.Style)

	sb.WriteString(`<w:tbl><w:tblPr>`)
	fmt.Fprintf(&sb, `<w:tblStyle w:val="%s"/><w:tblW w:w="%d" w:type="dxa"/>`, style, bodyWidthTwips)
	firstRow := 1
	if len(t.Header) == 0 {
		firstRow = 0
	}
	fmt.Fprintf(&sb, `<w:tblLayout w:type="fixed"/><w:tblLook w:firstRow="%d" w:lastRow="0" w:firstColumn="0" w:lastColumn="0" w:noHBand="0" w:noVBand="1"/>`, firstRow)
	sb.WriteString(`</w:tblPr><w:tblGrid>`)
	twips := make([]int, cols)
	for i, w := range widths {
		twips[i] = int(w * bodyWidthTwips)
		fmt.Fprintf(&sb, `<w:gridCol w:w="%d"/>`, twips[i])
	}
	sb.WriteString(`</w:tblGrid>`)

	row := func(cells []string, header bool) {
		sb.WriteString(`<w:tr>`)
		if header {
			sb.WriteString(`<w:trPr><w:tblHeader/></w:trPr>`)
		}
		for i := 0; i < cols; i++ {
			v := ""
			if i < len(cells) {
				v = cells[i]
			}
			fmt.Fprintf(&sb, `<w:tc><w:tcPr><w:tcW w:w="%d" w:type="dxa"/></w:tcPr>`, twips[i])
			sb.WriteString(paragraph(v, pPr{bold: header || (t.KeyValue && i == 0), size: b.doc.Styles.Body.Size}))
			sb.WriteString(`</w:tc>`)
		}
		sb.WriteString(`</w:tr>`)
	}
	if len(t.Header) > 0 {
		row(t.Header, true)
	}
	for _, r := range t.Rows {
		row(r, false)
	}
	sb.WriteString(`</w:tbl>`)
	// Word merges adjacent tables without a separating paragraph
	sb.WriteString(`<w:p/>`)
	return sb.String()
}

func (b *docxBuilder) documentXML() string {
	var sb strings.Builder
	sb.WriteString(xml.Header)
	fmt.Fprintf(&sb, `<w:document xmlns:w="%s" xmlns:r="%s" xmlns:wp="%s" xmlns:a="%s" xmlns:pic="%s"><w:body>`, nsW, nsR, nsWP, nsA, nsPic)
	sb.WriteString(b.body.String())
	fmt.Fprintf(&sb, `<w:sectPr><w:headerReference w:type="default" r:id="rId3"/><w:footerReference w:type="default" r:id="rId4"/>`+
		`<w:pgSz w:w="%d" w:h="%d"/><w:pgMar w:top="1944" w:right="%d" w:bottom="1728" w:left="%d" w:header="360" w:footer="360" w:gutter="0"/>`+
		`</w:sectPr></w:body></w:document>`, pageWidthTwips, pageHeightTwips, sideMarginTwips, sideMarginTwips)
	return sb.String()
}

func partXML(root, content string) string {
	return fmt.Sprintf(`%s<%s xmlns:w="%s" xmlns:r="%s" xmlns:wp="%s" xmlns:a="%s" xmlns:pic="%s">%s</%s>`,
		xml.Header, root, nsW, nsR, nsWP, nsA, nsPic, content, root)
}

func relsXML(rels []docxRel) string {
	var sb strings.Builder
	sb.WriteString(xml.Header)
	sb.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for _, r := range rels {
		fmt.Fprintf(&sb, `<Relationship Id="%s" Type="%s" Target="%s"/>`, r.ID, r.Type, escape(r.Target))
	}
	sb.WriteString(`</Relationships>`)
	return sb.String()
}

func (b *docxBuilder) contentTypes() string {
	const wml = "application/vnd.openxmlformats-officedocument.wordprocessingml."
	var sb strings.Builder
	sb.WriteString(xml.Header)
	sb.WriteString(`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`)
	sb.WriteString(`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>`)
	sb.WriteString(`<Default Extension="xml" ContentType="application/xml"/>`)
	sb.WriteString(`<Default Extension="png" ContentType="image/png"/>`)
	sb.WriteString(`<Default Extension="jpeg" ContentType="image/jpeg"/>`)
	sb.WriteString(`<Default Extension="gif" ContentType="image/gif"/>`)
	for _, o := range [][2]string{
		{"/word/document.xml", wml + "document.main+xml"},
		{"/word/styles.xml", wml + "styles+xml"},
		{"/word/numbering.xml", wml + "numbering+xml"},
		{"/word/header1.xml", wml + "header+xml"},
		{"/word/footer1.xml", wml + "footer+xml"},
		{"/docProps/core.xml", "application/vnd.openxmlformats-package.core-properties+xml"},
		{"/docProps/app.xml", "application/vnd.openxmlformats-officedocument.extended-properties+xml"},
	} {
		fmt.Fprintf(&sb, `<Override PartName="%s" ContentType="%s"/>`, o[0], o[1])
	}
	sb.WriteString(`</Types>`)
	return sb.String()
}

func (b *docxBuilder) coreXML() string {
	ts := b.doc.Date.UTC().Format(time.RFC3339)
	return fmt.Sprintf(`%s<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" `+
		`xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/" `+
		`xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">`+
		`<dc:title>%s</dc:title><dc:creator>%s</dc:creator>`+
		`<dcterms:created xsi:type="dcterms:W3CDTF">%s</dcterms:created>`+
		`<dcterms:modified xsi:type="dcterms:W3CDTF">%s</dcterms:modified>`+
		`</cp:coreProperties>`, xml.Header, escape(b.doc.Title), escape(b.doc.Author), ts, ts)
}

const appXML = xml.Header + `<Properties xmlns="http://schemas.openxmlformats.org/officeDocument/2006/extended-properties"><Application>rdreport</Application></Properties>`

func (b *docxBuilder) numberingXML() string {
	var sb strings.Builder
	sb.WriteString(xml.Header)
	fmt.Fprintf(&sb, `<w:numbering xmlns:w="%s">`, nsW)
	sb.WriteString(`<w:abstractNum w:abstractNumId="0"><w:multiLevelType w:val="singleLevel"/>` +
		`<w:lvl w:ilvl="0"><w:start w:val="1"/><w:numFmt w:val="bullet"/><w:lvlText w:val="•"/><w:lvlJc w:val="left"/></w:lvl></w:abstractNum>`)
	sb.WriteString(`<w:abstractNum w:abstractNumId="1"><w:multiLevelType w:val="singleLevel"/>` +
		`<w:lvl w:ilvl="0"><w:start w:val="1"/><w:numFmt w:val="decimal"/><w:lvlText w:val="%1."/><w:lvlJc w:val="left"/></w:lvl></w:abstractNum>`)
	sb.WriteString(`<w:num w:numId="1"><w:abstractNumId w:val="0"/></w:num>`)
	for i := 1; i <= b.lists; i++ {
		fmt.Fprintf(&sb, `<w:num w:numId="%d"><w:abstractNumId w:val="1"/><w:lvlOverride w:ilvl="0"><w:startOverride w:val="1"/></w:lvlOverride></w:num>`, i+1)
	}
	sb.WriteString(`</w:numbering>`)
	return sb.String()
}

// table styles offered by the form, mapped to header shading and border colour
var docxTableStyles = []struct {
	name, fill, border string
}{
	{"Table Grid", "", "000000"},
	{"Light List", "000000", "000000"},
	{"Light List Accent 1", "4F81BD", "4F81BD"},
	{"Light Grid", "", "000000"},
	{"Light Grid Accent 1", "", "4F81BD"},
	{"Medium Grid 1", "BFBFBF", "7F7F7F"},
	{"Medium Grid 1 Accent 1", "A7BFDE", "7BA0CD"},
	{"Medium Shading 1", "404040", "404040"},
	{"Medium Shading 1 Accent 1", "4F81BD", "7BA0CD"},
}

func styleID(name string) string {
	for _, s := range docxTableStyles {
		if s.name == name {
			return strings.ReplaceAll(strings.ReplaceAll(name, " Accent ", "-Accent"), " ", "")
		}
	}
	return "TableGrid"
}

func (b *docxBuilder) stylesXML() string {
	body := b.doc.Styles.Body.Size
	if body == 0 {
		body = 10
	}
	var sb strings.Builder
	sb.WriteString(xml.Header)
	fmt.Fprintf(&sb, `<w:styles xmlns:w="%s">`, nsW)
	fmt.Fprintf(&sb, `<w:docDefaults><w:rPrDefault><w:rPr><w:rFonts w:ascii="Calibri" w:hAnsi="Calibri" w:cs="Calibri"/><w:sz w:val="%d"/><w:szCs w:val="%d"/></w:rPr></w:rPrDefault>`+
		`<w:pPrDefault><w:pPr><w:spacing w:after="0" w:line="259" w:lineRule="auto"/></w:pPr></w:pPrDefault></w:docDefaults>`, halfPoints(body), halfPoints(body))
	sb.WriteString(`<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/><w:qFormat/></w:style>`)
	sb.WriteString(`<w:style w:type="table" w:default="1" w:styleId="TableNormal"><w:name w:val="Normal Table"/>` +
		`<w:tblPr><w:tblInd w:w="0" w:type="dxa"/><w:tblCellMar><w:top w:w="0" w:type="dxa"/><w:left w:w="108" w:type="dxa"/>` +
		`<w:bottom w:w="0" w:type="dxa"/><w:right w:w="108" w:type="dxa"/></w:tblCellMar></w:tblPr></w:style>`)
	for _, s := range docxTableStyles {
		fmt.Fprintf(&sb, `<w:style w:type="table" w:styleId="%s"><w:name w:val="%s"/><w:basedOn w:val="TableNormal"/><w:tblPr><w:tblBorders>`, styleID(s.name), s.name)
		for _, side := range []string{"top", "left", "bottom", "right", "insideH", "insideV"} {
			fmt.Fprintf(&sb, `<w:%s w:val="single" w:sz="4" w:space="0" w:color="%s"/>`, side, s.border)
		}
		sb.WriteString(`</w:tblBorders></w:tblPr>`)
		if s.fill != "" {
			fmt.Fprintf(&sb, `<w:tblStylePr w:type="firstRow"><w:rPr><w:b/><w:color w:val="FFFFFF"/></w:rPr><w:tcPr><w:shd w:val="clear" w:color="auto" w:fill="%s"/></w:tcPr></w:tblStylePr>`, s.fill)
		}
		sb.WriteString(`</w:style>`)
	}
	sb.WriteString(`</w:styles>`)
	return sb.String()
}

type pPr struct {
	align    string
	bold     bool
	size     float64
	indent   float64
	hanging  float64
	before   int
	after    int
	numID    int
	keepNext bool
}

// paragraph renders text as one w:p; embedded newlines become line breaks.
func paragraph(text string, o pPr) string {
	var sb strings.Builder
	sb.WriteString(`<w:p><w:pPr>`)
	if o.keepNext {
		sb.WriteString(`<w:keepNext/>`)
	}
	if o.numID > 0 {
		fmt.Fprintf(&sb, `<w:numPr><w:ilvl w:val="0"/><w:numId w:val="%d"/></w:numPr>`, o.numID)
	}
	if o.before > 0 || o.after > 0 {
		fmt.Fprintf(&sb, `<w:spacing w:before="%d" w:after="%d"/>`, o.before, o.after)
	}
	if o.indent > 0 {
		if o.hanging > 0 {
			fmt.Fprintf(&sb, `<w:ind w:left="%d" w:hanging="%d"/>`, inchTwips(o.indent), inchTwips(o.hanging))
		} else {
			fmt.Fprintf(&sb, `<w:ind w:left="%d"/>`, inchTwips(o.indent))
		}
	}
	if o.align != "" {
		fmt.Fprintf(&sb, `<w:jc w:val="%s"/>`, o.align)
	}
	sb.WriteString(`</w:pPr>`)

	rPr := ""
	if o.bold || o.size > 0 {
		var rb strings.Builder
		rb.WriteString(`<w:rPr>`)
		if o.bold {
			rb.WriteString(`<w:b/>`)
		}
		if o.size > 0 {
			fmt.Fprintf(&rb, `<w:sz w:val="%d"/><w:szCs w:val="%d"/>`, halfPoints(o.size), halfPoints(o.size))
		}
		rb.WriteString(`</w:rPr>`)
		rPr = rb.String()
	}
	if text != "" {
		sb.WriteString(`<w:r>`)
		sb.WriteString(rPr)
		for i, ln := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
			if i > 0 {
				sb.WriteString(`<w:br/>`)
			}
			fmt.Fprintf(&sb, `<w:t xml:space="preserve">%s</w:t>`, escape(ln))
		}
		sb.WriteString(`</w:r>`)
	}
	sb.WriteString(`</w:p>`)
	return sb.String()
}

func escape(s string) string {
	var sb strings.Builder
	xml.EscapeText(&sb, []byte(s))
	return sb.String()
}

func inchTwips(in float64) int { return int(in * twipsPerInch) }

func halfPoints(pt float64) int { return int(pt * 2) }

var _ Renderer = (*DOCXRenderer)(nil)
