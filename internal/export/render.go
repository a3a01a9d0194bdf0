package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"html/template"

	"github.com/xuri/excelize/v2"
)

// Rendered holds the output of one renderer. Canonical is what gets hashed;
// Body is what gets stored and downloaded. They differ only for PDF.
type Rendered struct {
	Canonical   []byte
	Body        []byte
	ContentType string
	Extension   string
}

// Renderer serialises a document in one format.
type Renderer interface {
	Render(ctx context.Context, doc Document) (Rendered, error)
}

// Typesetter converts HTML into PDF.
type Typesetter interface {
	RenderHTML(ctx context.Context, html []byte) ([]byte, error)
}

// CSVRenderer writes meta lines, a blank line, the header and the rows.
type CSVRenderer struct{}

// Render implements Renderer.
func (CSVRenderer) Render(_ context.Context, doc Document) (Rendered, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	for _, m := range doc.Meta {
		if err := writer.Write([]string{"#" + m.Key, m.Value}); err != nil {
			return Rendered{}, err
		}
	}
	if err := writer.Write([]string{""}); err != nil {
		return Rendered{}, err
	}
	if err := writer.Write(doc.Columns); err != nil {
		return Rendered{}, err
	}
	if err := writer.WriteAll(doc.Rows); err != nil {
		return Rendered{}, err
	}
	data := buf.Bytes()
	return Rendered{Canonical: data, Body: data, ContentType: "text/csv; charset=utf-8", Extension: "csv"}, nil
}

const (
	recordsSheet = "Records"
	metaSheet    = "Meta"
)

// ExcelRenderer writes a workbook with a Records and a Meta sheet. Every cell
// is a string so no number formatting leaks into the content.
type ExcelRenderer struct{}

// Render implements Renderer.
func (ExcelRenderer) Render(_ context.Context, doc Document) (Rendered, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", recordsSheet); err != nil {
		return Rendered{}, err
	}
	if _, err := f.NewSheet(metaSheet); err != nil {
		return Rendered{}, err
	}
	if err := writeRow(f, recordsSheet, 1, doc.Columns); err != nil {
		return Rendered{}, err
	}
	for i, row := range doc.Rows {
		if err := writeRow(f, recordsSheet, i+2, row); err != nil {
			return Rendered{}, err
		}
	}
	for i, m := range doc.Meta {
		if err := writeRow(f, metaSheet, i+1, []string{m.Key, m.Value}); err != nil {
			return Rendered{}, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return Rendered{}, fmt.Errorf("export: write workbook: %w", err)
	}
	data := buf.Bytes()
	return Rendered{
		Canonical:   data,
		Body:        data,
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Extension:   "xlsx",
	}, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []string) error {
	for col, value := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellStr(sheet, cell, value); err != nil {
			return err
		}
	}
	return nil
}

var htmlTemplate = template.Must(template.New("dataset").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Dataset {{.Title}}</title>
<style>
body { font-family: sans-serif; font-size: 9pt; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #999; padding: 2px 4px; text-align: left; }
td.hash { font-family: monospace; font-size: 7pt; }
</style>
</head>
<body>
<table class="meta">
{{- range .Meta}}
<tr><th>{{.Key}}</th><td>{{.Value}}</td></tr>
{{- end}}
</table>
<table class="records">
<thead><tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`))

// PDFRenderer builds a canonical HTML document and hands it to the
// typesetter. Without a typesetter the HTML itself is stored.
type PDFRenderer struct {
	Typesetter Typesetter
}

// Render implements Renderer.
func (p PDFRenderer) Render(ctx context.Context, doc Document) (Rendered, error) {
	html, err := CanonicalHTML(doc)
	if err != nil {
		return Rendered{}, err
	}
	if p.Typesetter == nil {
		return Rendered{Canonical: html, Body: html, ContentType: "text/html; charset=utf-8", Extension: "html"}, nil
	}
	pdf, err := p.Typesetter.RenderHTML(ctx, html)
	if err != nil {
		return Rendered{}, fmt.Errorf("export: typeset pdf: %w", err)
	}
	return Rendered{Canonical: html, Body: pdf, ContentType: "application/pdf", Extension: "pdf"}, nil
}

// CanonicalHTML renders the document as the HTML hashed for PDF exports.
func CanonicalHTML(doc Document) ([]byte, error) {
	title := ""
	for _, m := range doc.Meta {
		if m.Key == "dataset" {
			title = m.Value
		}
	}
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, struct {
		Title string
		Document
	}{Title: title, Document: doc}); err != nil {
		return nil, fmt.Errorf("export: render html: %w", err)
	}
	return buf.Bytes(), nil
}
