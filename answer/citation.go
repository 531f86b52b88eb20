package answer

import (
	"regexp"
	"strconv"

	"github.com/docusense/docusense/retrieval"
)

// citationPattern matches bracketed reference markers like [1].
var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// previewLimit caps citation previews in characters.
const previewLimit = 200

// extractCitations maps bracket markers in the answer to the contexts
// they reference, in order of first appearance. Repeated markers
// collapse to one citation; markers outside the context range are
// dropped.
func extractCitations(answerText string, contexts []retrieval.Result) []Citation {
	matches := citationPattern.FindAllStringSubmatch(answerText, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[int]bool, len(matches))
	citations := make([]Citation, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(contexts) {
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true

		c := contexts[n-1]
		citations = append(citations, Citation{
			Index:       n,
			TextPreview: preview(c.Text),
			DocumentID:  c.DocumentID,
			ChunkIndex:  c.ChunkIndex,
		})
	}
	return citations
}

// preview returns the first 200 characters of text with a trailing
// ellipsis marker.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) > previewLimit {
		runes = runes[:previewLimit]
	}
	return string(runes) + "..."
}
