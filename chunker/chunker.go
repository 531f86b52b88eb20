package chunker

import (
	"log/slog"
	"regexp"
	"strings"
)

// Chunk method values recorded in chunk metadata.
const (
	MethodParagraphSplit = "paragraph_split"
	MethodSentenceSplit  = "sentence_split"
	MethodFinalChunk     = "final_chunk"
)

// Meta carries the typed metadata recorded alongside each chunk.
type Meta struct {
	Method     string `json:"chunk_method"`
	HasOverlap bool   `json:"has_overlap"`
	Header     string `json:"header,omitempty"`
	Oversize   bool   `json:"oversize,omitempty"`
}

// Chunk is one token-bounded slice of a document, the unit of retrieval.
// StartChar and EndChar are byte offsets into the text passed to Split.
type Chunk struct {
	Text       string `json:"text"`
	Index      int    `json:"chunk_index"`
	TokenCount int    `json:"token_count"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
	Meta       Meta   `json:"meta_data"`
}

// Config controls the chunking behaviour.
type Config struct {
	ChunkSize    int          // Maximum tokens per chunk.
	ChunkOverlap int          // Token budget carried over between consecutive chunks.
	Counter      TokenCounter // Token counter; nil selects cl100k_base with a word fallback.
}

// Chunker splits UTF-8 text into token-bounded, overlapping chunks that
// respect paragraph and sentence boundaries.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 800
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = 200
	}
	if cfg.Counter == nil {
		bpe, err := NewBPECounter(DefaultEncoding)
		if err != nil {
			slog.Warn("chunker: BPE encoding unavailable, using word heuristic",
				"encoding", DefaultEncoding, "error", err)
			cfg.Counter = WordCounter{}
		} else {
			cfg.Counter = bpe
		}
	}
	return &Chunker{cfg: cfg}
}

var (
	paragraphBreak = regexp.MustCompile(`\n{2,}`)
	atxHeader      = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
)

// Split chunks plain text. Paragraphs are accumulated up to the token
// budget; a paragraph that alone exceeds the budget is split at sentence
// boundaries. When a chunk is emitted the next one is seeded with overlap
// from its tail: the last paragraph in paragraph mode, the last two
// sentences in sentence mode, nothing when overlap is disabled.
func (c *Chunker) Split(text string) []Chunk {
	trimmed, base := trimOffsets(text, 0)
	if trimmed == "" {
		return nil
	}
	return c.split(trimmed, base, "")
}

// SplitMarkdown partitions text by ATX headers, chunks each header-rooted
// section independently, stamps the section title on every emitted chunk,
// and reassigns chunk indexes 0-based across the whole document. Overlap
// flags are assigned within each section, so the first chunk of a section
// is unmarked even after reindexing.
func (c *Chunker) SplitMarkdown(text string) []Chunk {
	trimmed, base := trimOffsets(text, 0)
	if trimmed == "" {
		return nil
	}

	var chunks []Chunk
	for _, sec := range markdownSections(trimmed) {
		body, start := trimOffsets(sec.text, sec.start)
		if body == "" {
			continue
		}
		chunks = append(chunks, c.split(body, base+start, sec.header)...)
	}

	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

// piece is a paragraph or sentence with its source offsets. Overlap seeds
// keep the offsets of the text they were copied from.
type piece struct {
	text   string
	start  int
	end    int
	tokens int
}

// split runs the accumulation algorithm over pre-trimmed text whose first
// byte sits at offset base in the source document.
func (c *Chunker) split(text string, base int, header string) []Chunk {
	var (
		chunks  []Chunk
		current []piece
		tokens  int
	)

	flush := func(method string) []piece {
		flushed := current
		texts := make([]string, len(current))
		for i, p := range current {
			texts[i] = p.text
		}
		chunks = append(chunks, Chunk{
			Text:       strings.Join(texts, " "),
			Index:      len(chunks),
			TokenCount: tokens,
			StartChar:  current[0].start,
			EndChar:    current[len(current)-1].end,
			Meta: Meta{
				Method:     method,
				HasOverlap: len(chunks) > 0,
				Header:     header,
				Oversize:   len(current) == 1 && tokens > c.cfg.ChunkSize,
			},
		})
		current = nil
		tokens = 0
		return flushed
	}

	push := func(p piece) {
		current = append(current, p)
		tokens += p.tokens
	}

	for _, para := range paragraphs(text, base) {
		para.tokens = c.cfg.Counter.Count(para.text)

		// A paragraph over the budget is consumed sentence by sentence.
		if para.tokens > c.cfg.ChunkSize {
			for _, sent := range sentences(para.text, para.start) {
				sent.tokens = c.cfg.Counter.Count(sent.text)
				if tokens+sent.tokens > c.cfg.ChunkSize && len(current) > 0 {
					flushed := flush(MethodSentenceSplit)
					if c.cfg.ChunkOverlap > 0 && len(flushed) > 1 {
						for _, p := range flushed[len(flushed)-2:] {
							push(p)
						}
					}
				}
				push(sent)
			}
			continue
		}

		if tokens+para.tokens > c.cfg.ChunkSize && len(current) > 0 {
			flushed := flush(MethodParagraphSplit)
			if c.cfg.ChunkOverlap > 0 {
				push(flushed[len(flushed)-1])
			}
		}
		push(para)
	}

	if len(current) > 0 {
		flush(MethodFinalChunk)
	}
	return chunks
}

// ---------------------------------------------------------------------------
// text segmentation
// ---------------------------------------------------------------------------

// paragraphs splits text on runs of two or more newlines, keeping byte
// offsets relative to the source document. Empty paragraphs are dropped.
func paragraphs(text string, base int) []piece {
	var out []piece
	prev := 0
	breaks := paragraphBreak.FindAllStringIndex(text, -1)
	for _, b := range append(breaks, []int{len(text), len(text)}) {
		seg := text[prev:b[0]]
		if t, start := trimOffsets(seg, prev); t != "" {
			out = append(out, piece{text: t, start: base + start, end: base + start + len(t)})
		}
		prev = b[1]
	}
	return out
}

// sentences splits a paragraph at end-of-sentence punctuation followed by
// whitespace. The punctuation stays with its sentence; a trailing fragment
// without terminal punctuation is kept as a final sentence. Offsets are
// relative to the source document.
func sentences(text string, base int) []piece {
	var out []piece
	start := 0
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch != '.' && ch != '!' && ch != '?' {
			continue
		}
		if i+1 < len(text) && !isSpace(text[i+1]) {
			continue
		}
		seg := text[start : i+1]
		if t, s := trimOffsets(seg, start); t != "" {
			out = append(out, piece{text: t, start: base + s, end: base + s + len(t)})
		}
		start = i + 1
		for start < len(text) && isSpace(text[start]) {
			start++
		}
		i = start - 1
	}
	if start < len(text) {
		if t, s := trimOffsets(text[start:], start); t != "" {
			out = append(out, piece{text: t, start: base + s, end: base + s + len(t)})
		}
	}
	return out
}

// markdownSection is a header-rooted slice of a markdown document.
type markdownSection struct {
	header string
	text   string
	start  int
}

// markdownSections partitions text at ATX header lines. The header line
// belongs to the section it opens; content before the first header forms a
// section with an empty title.
func markdownSections(text string) []markdownSection {
	var (
		sections []markdownSection
		cur      markdownSection
		open     bool
	)
	offset := 0
	for offset <= len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		var line string
		next := len(text) + 1
		if lineEnd >= 0 {
			line = text[offset : offset+lineEnd]
			next = offset + lineEnd + 1
		} else {
			line = text[offset:]
		}

		if m := atxHeader.FindStringSubmatch(line); m != nil {
			if open {
				cur.text = text[cur.start:offset]
				sections = append(sections, cur)
			}
			cur = markdownSection{header: m[2], start: offset}
			open = true
		} else if !open {
			cur = markdownSection{start: offset}
			open = true
		}
		offset = next
	}
	if open {
		cur.text = text[cur.start:]
		sections = append(sections, cur)
	}
	return sections
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

// trimOffsets trims surrounding whitespace and reports the trimmed string
// plus the source offset of its first byte (base + leading whitespace).
func trimOffsets(s string, base int) (string, int) {
	trimmed := strings.TrimLeft(s, " \t\n\r")
	start := base + len(s) - len(trimmed)
	trimmed = strings.TrimRight(trimmed, " \t\n\r")
	return trimmed, start
}
