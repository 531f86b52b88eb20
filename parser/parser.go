// Package parser turns document sources into canonical UTF-8 text. Each
// source kind has one parse function; everything downstream (dedup,
// chunking, embedding) operates on the Result text alone.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
)

// Source types stamped into document and chunk metadata.
const (
	TypePDF      = "pdf"
	TypeURL      = "url"
	TypeMarkdown = "markdown"
	TypeText     = "text"
)

// Result is the canonical output of every parse function.
type Result struct {
	Text  string
	Title string
	Pages []Page // populated for PDFs only
	Meta  map[string]string
}

// Page holds the extracted text of a single PDF page. Numbers are 1-based.
type Page struct {
	Number int
	Text   string
}

// Checksum returns the SHA-256 hex digest of the canonical parsed text,
// the store-wide deduplication key.
func Checksum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
