package parser

import "strings"

// ParseMarkdown wraps markdown content unchanged; header-aware splitting
// happens later in the chunker.
func ParseMarkdown(content string) *Result {
	return &Result{
		Text: content,
		Meta: map[string]string{"source_type": TypeMarkdown},
	}
}

// ParseText wraps plain text, dropping any bytes that are not valid UTF-8.
func ParseText(content string) *Result {
	return &Result{
		Text: strings.ToValidUTF8(content, ""),
		Meta: map[string]string{"source_type": TypeText},
	}
}
