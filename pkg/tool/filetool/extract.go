package filetool

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// extractText converts a non-plain-text attachment to text so read_file can
// return something an LLM can reason about, per SPEC_FULL.md's filetool
// domain-stack wiring (PDF/DOCX/XLSX). Returns ("", nil) for extensions it
// doesn't recognize, leaving the caller to fall back to raw bytes.
func extractText(path string) (string, error) {
	switch {
	case strings.HasSuffix(strings.ToLower(path), ".pdf"):
		return extractPDF(path)
	case strings.HasSuffix(strings.ToLower(path), ".docx"):
		return extractDOCX(path)
	case strings.HasSuffix(strings.ToLower(path), ".xlsx"):
		return extractXLSX(path)
	default:
		return "", nil
	}
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("filetool: open pdf: %w", err)
	}
	defer f.Close()

	var out strings.Builder
	totalPages := r.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("filetool: extract pdf page %d: %w", i, err)
		}
		out.WriteString(text)
		out.WriteString("\n")
	}
	return out.String(), nil
}

func extractDOCX(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("filetool: open docx: %w", err)
	}
	defer r.Close()
	return r.Editable().GetContent(), nil
}

func extractXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("filetool: open xlsx: %w", err)
	}
	defer f.Close()

	var out strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("filetool: read xlsx sheet %q: %w", sheet, err)
		}
		out.WriteString(fmt.Sprintf("SHEET: %s\n", sheet))
		for _, row := range rows {
			out.WriteString(strings.Join(row, "\t"))
			out.WriteString("\n")
		}
	}
	return out.String(), nil
}
