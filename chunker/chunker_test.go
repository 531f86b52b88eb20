package chunker

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Configuration tests
// ---------------------------------------------------------------------------

func TestNewDefaults(t *testing.T) {
	c := New(Config{Counter: WordCounter{}})
	if c.cfg.ChunkSize != 800 {
		t.Errorf("default ChunkSize = %d, want 800", c.cfg.ChunkSize)
	}
	if c.cfg.ChunkOverlap != 200 {
		t.Errorf("default ChunkOverlap = %d, want 200", c.cfg.ChunkOverlap)
	}
}

func TestNewCustomConfig(t *testing.T) {
	c := New(Config{ChunkSize: 1200, ChunkOverlap: 300, Counter: WordCounter{}})
	if c.cfg.ChunkSize != 1200 {
		t.Errorf("ChunkSize = %d, want 1200", c.cfg.ChunkSize)
	}
	if c.cfg.ChunkOverlap != 300 {
		t.Errorf("ChunkOverlap = %d, want 300", c.cfg.ChunkOverlap)
	}
}

// ---------------------------------------------------------------------------
// Plain text splitting
// ---------------------------------------------------------------------------

func TestSplitEmpty(t *testing.T) {
	c := New(Config{Counter: WordCounter{}})
	if got := c.Split(""); got != nil {
		t.Errorf("Split(\"\") = %v, want nil", got)
	}
	if got := c.Split("  \n\n\t "); got != nil {
		t.Errorf("Split(whitespace) = %v, want nil", got)
	}
	if got := c.SplitMarkdown(""); got != nil {
		t.Errorf("SplitMarkdown(\"\") = %v, want nil", got)
	}
}

func TestSplitSingleChunk(t *testing.T) {
	c := New(Config{Counter: WordCounter{}})
	text := "The quick brown fox jumps over the lazy dog."

	chunks := c.Split(text)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	ch := chunks[0]
	if ch.Text != text {
		t.Errorf("Text = %q, want %q", ch.Text, text)
	}
	if ch.Index != 0 {
		t.Errorf("Index = %d, want 0", ch.Index)
	}
	if ch.TokenCount != 12 { // ceil(9 * 1.3)
		t.Errorf("TokenCount = %d, want 12", ch.TokenCount)
	}
	if ch.StartChar != 0 || ch.EndChar != len(text) {
		t.Errorf("offsets = [%d, %d), want [0, %d)", ch.StartChar, ch.EndChar, len(text))
	}
	if ch.Meta.Method != MethodFinalChunk {
		t.Errorf("Method = %q, want %q", ch.Meta.Method, MethodFinalChunk)
	}
	if ch.Meta.HasOverlap {
		t.Error("first chunk should not be marked as overlapping")
	}
	if ch.Meta.Oversize {
		t.Error("chunk within budget should not be marked oversize")
	}
}

func TestSplitParagraphAccumulation(t *testing.T) {
	// Six paragraphs of ten words each: 13 tokens apiece under WordCounter.
	// With a 30-token budget two paragraphs fit per chunk, and each flush
	// seeds the next chunk with the last paragraph.
	paras := []string{
		"Alpha systems record every single metric the collector exposes today.",
		"Beta workers drain the queue before the nightly window closes.",
		"Gamma caches expire after ninety seconds of idle wall time.",
		"Delta brokers replay events whenever a consumer falls too far.",
		"Epsilon probes report latency from five regions every single minute.",
		"Zeta archives compress summaries once the retention period finally ends.",
	}
	src := strings.Join(paras, "\n\n")

	c := New(Config{ChunkSize: 30, ChunkOverlap: 10, Counter: WordCounter{}})
	chunks := c.Split(src)

	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(chunks))
	}

	for i, ch := range chunks {
		want := paras[i] + " " + paras[i+1]
		if ch.Text != want {
			t.Errorf("chunk[%d].Text = %q, want %q", i, ch.Text, want)
		}
		if ch.Index != i {
			t.Errorf("chunk[%d].Index = %d, want %d", i, ch.Index, i)
		}
		if ch.TokenCount != 26 {
			t.Errorf("chunk[%d].TokenCount = %d, want 26", i, ch.TokenCount)
		}
		if ch.Meta.HasOverlap != (i > 0) {
			t.Errorf("chunk[%d].HasOverlap = %v, want %v", i, ch.Meta.HasOverlap, i > 0)
		}

		wantStart := strings.Index(src, paras[i])
		wantEnd := strings.Index(src, paras[i+1]) + len(paras[i+1])
		if ch.StartChar != wantStart || ch.EndChar != wantEnd {
			t.Errorf("chunk[%d] offsets = [%d, %d), want [%d, %d)",
				i, ch.StartChar, ch.EndChar, wantStart, wantEnd)
		}
	}

	for i := 0; i < 4; i++ {
		if chunks[i].Meta.Method != MethodParagraphSplit {
			t.Errorf("chunk[%d].Method = %q, want %q", i, chunks[i].Meta.Method, MethodParagraphSplit)
		}
	}
	if chunks[4].Meta.Method != MethodFinalChunk {
		t.Errorf("last chunk Method = %q, want %q", chunks[4].Meta.Method, MethodFinalChunk)
	}

	// Consecutive chunks share their boundary paragraph.
	for i := 0; i < len(chunks)-1; i++ {
		if !strings.HasPrefix(chunks[i+1].Text, paras[i+1]) {
			t.Errorf("chunk[%d] does not start with the overlap paragraph", i+1)
		}
	}
}

func TestSplitSentenceFallback(t *testing.T) {
	// A single paragraph over the budget is split at sentence boundaries,
	// seeding each new chunk with the previous chunk's last two sentences.
	sents := []string{
		"Alpha one runs.",
		"Beta two walks.",
		"Gamma three jumps.",
		"Delta four sleeps.",
		"Epsilon five waits.",
	}
	src := strings.Join(sents, " ")

	c := New(Config{ChunkSize: 10, ChunkOverlap: 4, Counter: WordCounter{}})
	chunks := c.Split(src)

	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}

	wantTexts := []string{
		"Alpha one runs. Beta two walks.",
		"Alpha one runs. Beta two walks. Gamma three jumps.",
		"Beta two walks. Gamma three jumps. Delta four sleeps.",
		"Gamma three jumps. Delta four sleeps. Epsilon five waits.",
	}
	for i, ch := range chunks {
		if ch.Text != wantTexts[i] {
			t.Errorf("chunk[%d].Text = %q, want %q", i, ch.Text, wantTexts[i])
		}
		// Sentence pieces are contiguous in the source, so the recorded
		// offsets reproduce the chunk text exactly.
		if got := src[ch.StartChar:ch.EndChar]; got != ch.Text {
			t.Errorf("chunk[%d] src[%d:%d] = %q, want %q", i, ch.StartChar, ch.EndChar, got, ch.Text)
		}
	}

	for i := 0; i < 3; i++ {
		if chunks[i].Meta.Method != MethodSentenceSplit {
			t.Errorf("chunk[%d].Method = %q, want %q", i, chunks[i].Meta.Method, MethodSentenceSplit)
		}
	}
	if chunks[3].Meta.Method != MethodFinalChunk {
		t.Errorf("last chunk Method = %q, want %q", chunks[3].Meta.Method, MethodFinalChunk)
	}

	// Offsets never move backwards even when overlap revisits text.
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartChar < chunks[i-1].StartChar {
			t.Errorf("chunk[%d].StartChar = %d, before previous %d",
				i, chunks[i].StartChar, chunks[i-1].StartChar)
		}
	}
}

func TestSplitOversizeSingleSentence(t *testing.T) {
	c := New(Config{ChunkSize: 5, Counter: WordCounter{}})
	text := "This sentence runs far beyond the tiny configured token budget."

	chunks := c.Split(text)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	ch := chunks[0]
	if ch.Text != text {
		t.Errorf("Text = %q, want the whole sentence", ch.Text)
	}
	if !ch.Meta.Oversize {
		t.Error("single sentence over the budget should be marked oversize")
	}
	if ch.Meta.Method != MethodFinalChunk {
		t.Errorf("Method = %q, want %q", ch.Meta.Method, MethodFinalChunk)
	}
}

func TestSplitOversizeMidStream(t *testing.T) {
	src := "Short one here. This sentence runs far beyond the tiny configured token budget. Tail two end."

	c := New(Config{ChunkSize: 6, Counter: WordCounter{}})
	chunks := c.Split(src)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Meta.Oversize {
		t.Error("chunk[0] within budget should not be oversize")
	}
	if !chunks[1].Meta.Oversize {
		t.Error("chunk[1] holding the long sentence should be oversize")
	}
	if chunks[2].Meta.Oversize {
		t.Error("chunk[2] within budget should not be oversize")
	}
	if chunks[1].Text != "This sentence runs far beyond the tiny configured token budget." {
		t.Errorf("chunk[1].Text = %q, want the long sentence", chunks[1].Text)
	}

	// Single-sentence flushes carry no text over, but every chunk after
	// the first is still flagged as overlapping.
	for i, ch := range chunks {
		if ch.Meta.HasOverlap != (i > 0) {
			t.Errorf("chunk[%d].HasOverlap = %v, want %v", i, ch.Meta.HasOverlap, i > 0)
		}
	}
}

func TestSplitOffsetsWithLeadingWhitespace(t *testing.T) {
	src := "\n\n  First para here.\n\nSecond para there.\n\n"

	c := New(Config{Counter: WordCounter{}})
	chunks := c.Split(src)

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	ch := chunks[0]
	if ch.Text != "First para here. Second para there." {
		t.Errorf("Text = %q", ch.Text)
	}

	// Offsets point into the original input, past the trimmed whitespace.
	wantStart := strings.Index(src, "First")
	wantEnd := strings.Index(src, "there.") + len("there.")
	if ch.StartChar != wantStart || ch.EndChar != wantEnd {
		t.Errorf("offsets = [%d, %d), want [%d, %d)", ch.StartChar, ch.EndChar, wantStart, wantEnd)
	}
	if !strings.HasPrefix(src[ch.StartChar:ch.EndChar], "First") {
		t.Errorf("src slice does not start at the first paragraph: %q", src[ch.StartChar:ch.EndChar])
	}
	if !strings.HasSuffix(src[ch.StartChar:ch.EndChar], "there.") {
		t.Errorf("src slice does not end at the last paragraph: %q", src[ch.StartChar:ch.EndChar])
	}
}

// ---------------------------------------------------------------------------
// Markdown splitting
// ---------------------------------------------------------------------------

func TestSplitMarkdownHeaders(t *testing.T) {
	src := `Intro paragraph before any header.

# Getting Started

Install the binary. Run the server.

## Configuration

Set the port. Set the host.`

	c := New(Config{Counter: WordCounter{}})
	chunks := c.SplitMarkdown(src)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	wantHeaders := []string{"", "Getting Started", "Configuration"}
	for i, ch := range chunks {
		if ch.Meta.Header != wantHeaders[i] {
			t.Errorf("chunk[%d].Header = %q, want %q", i, ch.Meta.Header, wantHeaders[i])
		}
		if ch.Index != i {
			t.Errorf("chunk[%d].Index = %d, want %d", i, ch.Index, i)
		}
	}

	// The header line stays inside the section text.
	if !strings.Contains(chunks[1].Text, "# Getting Started") {
		t.Errorf("chunk[1].Text = %q, should include the header line", chunks[1].Text)
	}

	// Section starts map to the header positions in the source.
	if want := strings.Index(src, "# Getting Started"); chunks[1].StartChar != want {
		t.Errorf("chunk[1].StartChar = %d, want %d", chunks[1].StartChar, want)
	}
	if want := strings.Index(src, "## Configuration"); chunks[2].StartChar != want {
		t.Errorf("chunk[2].StartChar = %d, want %d", chunks[2].StartChar, want)
	}
}

func TestSplitMarkdownReindexAcrossSections(t *testing.T) {
	paras := []string{
		"Alpha systems record every single metric the collector exposes today.",
		"Beta workers drain the queue before the nightly window closes.",
		"Gamma caches expire after ninety seconds of idle wall time.",
	}
	src := "# Alpha\n\n" + strings.Join(paras, "\n\n") +
		"\n\n# Beta\n\nDelta brokers replay events whenever a consumer falls too far."

	c := New(Config{ChunkSize: 30, ChunkOverlap: 10, Counter: WordCounter{}})
	chunks := c.SplitMarkdown(src)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	// Indexes run across the whole document, not per section.
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk[%d].Index = %d, want %d", i, ch.Index, i)
		}
	}

	if chunks[0].Meta.Header != "Alpha" || chunks[1].Meta.Header != "Alpha" {
		t.Errorf("first section headers = %q, %q, want %q",
			chunks[0].Meta.Header, chunks[1].Meta.Header, "Alpha")
	}
	if chunks[2].Meta.Header != "Beta" {
		t.Errorf("chunk[2].Header = %q, want %q", chunks[2].Meta.Header, "Beta")
	}

	// Overlap is tracked within each section: the second chunk of the first
	// section carries overlap, the first chunk of a new section does not.
	if !chunks[1].Meta.HasOverlap {
		t.Error("chunk[1] should carry overlap within its section")
	}
	if chunks[2].Meta.HasOverlap {
		t.Error("chunk[2] opens a new section and should not carry overlap")
	}
}

func TestSplitMarkdownNoHeaders(t *testing.T) {
	c := New(Config{Counter: WordCounter{}})
	chunks := c.SplitMarkdown("Just a plain paragraph without any header at all.")

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Meta.Header != "" {
		t.Errorf("Header = %q, want empty", chunks[0].Meta.Header)
	}
}

// ---------------------------------------------------------------------------
// Segmentation helpers
// ---------------------------------------------------------------------------

func TestSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"terminal_marks", "One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"no_terminal", "No terminal punctuation", []string{"No terminal punctuation"}},
		{"decimal_not_split", "Version 2.5 is out. Next.", []string{"Version 2.5 is out.", "Next."}},
		{"ellipsis", "Wait... done.", []string{"Wait...", "done."}},
		{"trailing_fragment", "Done. And then some", []string{"Done.", "And then some"}},
		{"empty", "", nil},
		{"whitespace_only", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pieces := sentences(tt.text, 0)
			if len(pieces) != len(tt.want) {
				t.Fatalf("sentences(%q) returned %d pieces, want %d", tt.text, len(pieces), len(tt.want))
			}
			for i, p := range pieces {
				if p.text != tt.want[i] {
					t.Errorf("piece[%d] = %q, want %q", i, p.text, tt.want[i])
				}
				if got := tt.text[p.start:p.end]; got != p.text {
					t.Errorf("piece[%d] offsets [%d, %d) yield %q, want %q", i, p.start, p.end, got, p.text)
				}
			}
		})
	}
}

func TestParagraphs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"double_newline", "A\n\nB", []string{"A", "B"}},
		{"single_newline_kept", "A\nB", []string{"A\nB"}},
		{"many_newlines", "A\n\n\n\nB", []string{"A", "B"}},
		{"blank_segment_dropped", "A\n\n  \n\nB", []string{"A", "B"}},
		{"single", "Only one paragraph", []string{"Only one paragraph"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pieces := paragraphs(tt.text, 0)
			if len(pieces) != len(tt.want) {
				t.Fatalf("paragraphs(%q) returned %d pieces, want %d", tt.text, len(pieces), len(tt.want))
			}
			for i, p := range pieces {
				if p.text != tt.want[i] {
					t.Errorf("piece[%d] = %q, want %q", i, p.text, tt.want[i])
				}
				if got := tt.text[p.start:p.end]; got != p.text {
					t.Errorf("piece[%d] offsets [%d, %d) yield %q, want %q", i, p.start, p.end, got, p.text)
				}
			}
		})
	}
}

func TestMarkdownSections(t *testing.T) {
	src := "Pre\n# A\nBody\n## B\nMore"
	secs := markdownSections(src)

	if len(secs) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(secs))
	}
	if secs[0].header != "" || secs[0].text != "Pre\n" {
		t.Errorf("preamble = {%q, %q}, want {\"\", \"Pre\\n\"}", secs[0].header, secs[0].text)
	}
	if secs[1].header != "A" || secs[1].text != "# A\nBody\n" {
		t.Errorf("section 1 = {%q, %q}", secs[1].header, secs[1].text)
	}
	if secs[2].header != "B" || secs[2].text != "## B\nMore" {
		t.Errorf("section 2 = {%q, %q}", secs[2].header, secs[2].text)
	}
	for i, sec := range secs {
		if !strings.HasPrefix(src[sec.start:], sec.text) {
			t.Errorf("section[%d].start = %d does not locate its text", i, sec.start)
		}
	}
}

func TestMarkdownSectionsNonHeaders(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no_space_after_hash", "#NoSpace here"},
		{"seven_hashes", "####### too deep"},
		{"hash_mid_line", "not # a header"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secs := markdownSections(tt.text)
			if len(secs) != 1 {
				t.Fatalf("expected 1 section, got %d", len(secs))
			}
			if secs[0].header != "" {
				t.Errorf("header = %q, want empty", secs[0].header)
			}
		})
	}
}

func TestTrimOffsets(t *testing.T) {
	tests := []struct {
		in        string
		base      int
		want      string
		wantStart int
	}{
		{"", 0, "", 0},
		{"  x  ", 0, "x", 2},
		{"\n\nab", 5, "ab", 7},
		{"plain", 3, "plain", 3},
	}

	for _, tt := range tests {
		got, start := trimOffsets(tt.in, tt.base)
		if got != tt.want || start != tt.wantStart {
			t.Errorf("trimOffsets(%q, %d) = (%q, %d), want (%q, %d)",
				tt.in, tt.base, got, start, tt.want, tt.wantStart)
		}
	}
}

// ---------------------------------------------------------------------------
// Token counting
// ---------------------------------------------------------------------------

func TestWordCounter(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"single_word", "hello", 2},              // ceil(1 * 1.3)
		{"two_words", "hello world", 3},          // ceil(2 * 1.3)
		{"ten_words", "a b c d e f g h i j", 13}, // ceil(10 * 1.3)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WordCounter{}.Count(tt.text)
			if got != tt.want {
				t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}
