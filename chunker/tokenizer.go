package chunker

import (
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used for token counting when no
// counter is supplied. It matches the tokenizer of the embedding and chat
// models this service targets.
const DefaultEncoding = "cl100k_base"

// TokenCounter reports the number of model tokens in a string. The chunker
// never assumes a byte-per-token ratio; all budgeting goes through this
// interface.
type TokenCounter interface {
	Count(text string) int
}

// BPECounter counts tokens with a tiktoken BPE encoding.
type BPECounter struct {
	enc *tiktoken.Tiktoken
}

// NewBPECounter loads the given tiktoken encoding. An empty name selects
// DefaultEncoding.
func NewBPECounter(encoding string) (*BPECounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &BPECounter{enc: enc}, nil
}

// Count returns the number of BPE tokens in text.
func (c *BPECounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// WordCounter approximates token counts as words * 1.3. It is the fallback
// when the BPE vocabulary cannot be loaded, and a convenient deterministic
// counter for tests.
type WordCounter struct{}

// Count returns the estimated token count of text.
func (WordCounter) Count(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}
