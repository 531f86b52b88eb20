package answer

import (
	"strings"

	"github.com/docusense/docusense/retrieval"
)

// MinAnswerableConfidence is the floor below which generation is not
// attempted and InsufficientInfoAnswer is returned instead.
const MinAnswerableConfidence = 0.05

// InsufficientInfoAnswer is the fixed answer for questions the
// retrieved material cannot support.
const InsufficientInfoAnswer = "I cannot find enough relevant information to answer this question."

// Answerability estimates how well the contexts can answer the
// question: 0.3 for having any context at all, plus up to 0.5 scaled by
// the share of question words that appear somewhere in the contexts,
// capped at 1.0.
func Answerability(question string, contexts []retrieval.Result) float64 {
	if len(contexts) == 0 {
		return 0
	}

	queryWords := wordSet(question)
	contextWords := make(map[string]struct{})
	for _, c := range contexts {
		for w := range wordSet(c.Text) {
			contextWords[w] = struct{}{}
		}
	}

	var overlap float64
	if len(queryWords) > 0 {
		matched := 0
		for w := range queryWords {
			if _, ok := contextWords[w]; ok {
				matched++
			}
		}
		overlap = float64(matched) / float64(len(queryWords))
	}

	confidence := 0.3 + overlap*0.5
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
