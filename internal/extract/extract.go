// Package extract pulls plain text out of uploaded assessment and reference
// files. Dispatch is by file extension; anything unrecognized is a
// user-correctable error, distinct from backend failures.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/unidoc/unioffice/document"
)

// ErrUnsupportedType marks a file extension the extractor cannot handle.
var ErrUnsupportedType = errors.New("unsupported file type")

// Text extracts plain text from content based on the extension of filename.
// Supported: .pdf, .docx, .txt.
func Text(filename string, content []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return pdfText(content)
	case ".docx":
		return docxText(content)
	case ".txt":
		return strings.ToValidUTF8(string(content), ""), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, filename)
	}
}

func pdfText(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text: %w", err)
	}

	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}

	return string(out), nil
}

// docxText walks paragraph runs first and falls back on nothing else; table
// cell text is appended after the body paragraphs, one line per cell, which
// mirrors how assessment templates lay out their fields.
func docxText(content []byte) (string, error) {
	doc, err := document.Read(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}
	defer doc.Close()

	var lines []string

	for _, para := range doc.Paragraphs() {
		if text := paragraphText(para); text != "" {
			lines = append(lines, text)
		}
	}

	for _, table := range doc.Tables() {
		for _, row := range table.Rows() {
			for _, cell := range row.Cells() {
				var cellParts []string
				for _, para := range cell.Paragraphs() {
					if text := paragraphText(para); text != "" {
						cellParts = append(cellParts, text)
					}
				}
				if len(cellParts) > 0 {
					lines = append(lines, strings.Join(cellParts, " "))
				}
			}
		}
	}

	return strings.Join(lines, "\n"), nil
}

func paragraphText(para document.Paragraph) string {
	var builder strings.Builder
	for _, run := range para.Runs() {
		builder.WriteString(run.Text())
	}
	return strings.TrimSpace(builder.String())
}
