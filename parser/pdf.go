package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ParsePDF extracts plain text from the PDF at path. Pages that yield no
// text are skipped; the document text is the remaining pages joined by
// blank lines. A PDF with no extractable text at all (scanned or empty)
// is an error.
func ParsePDF(path string) (*Result, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	total := reader.NumPage()
	var pages []Page
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages that fail to extract are skipped, not fatal.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf %q has no extractable text", path)
	}

	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	return &Result{
		Text:  strings.Join(texts, "\n\n"),
		Pages: pages,
		Meta: map[string]string{
			"source_type": TypePDF,
			"page_count":  strconv.Itoa(total),
		},
	}, nil
}
