package retrieval

import (
	"math"
	"sort"
	"strings"

	"github.com/docusense/docusense/store"
)

// Okapi BM25 parameters.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// lexicalHit is one BM25 match.
type lexicalHit struct {
	ChunkID int64
	Score   float64
}

// bm25Index is an immutable Okapi BM25 index over a snapshot of one
// collection's chunks. Build it, query it, throw it away; the cache in
// retrieval.go decides how long a snapshot stays useful.
type bm25Index struct {
	postings map[string]map[int64]int // term -> chunk id -> term frequency
	docFreq  map[string]int
	lengths  map[int64]int
	avgLen   float64
	count    int
}

// newBM25Index builds the index in one pass over the snapshot. Chunks
// with no indexable terms still count toward the corpus size and the
// average length.
func newBM25Index(chunks []store.ChunkText) *bm25Index {
	idx := &bm25Index{
		postings: make(map[string]map[int64]int),
		docFreq:  make(map[string]int),
		lengths:  make(map[int64]int, len(chunks)),
	}

	var total int
	for _, c := range chunks {
		terms := tokenize(c.Text)
		idx.count++
		idx.lengths[c.ID] = len(terms)
		total += len(terms)

		for _, t := range terms {
			m, ok := idx.postings[t]
			if !ok {
				m = make(map[int64]int)
				idx.postings[t] = m
			}
			if m[c.ID] == 0 {
				idx.docFreq[t]++
			}
			m[c.ID]++
		}
	}
	if idx.count > 0 {
		idx.avgLen = float64(total) / float64(idx.count)
	}
	return idx
}

// search scores the query against the snapshot. Query terms keep their
// repetition, so asking the same word twice doubles its contribution.
// Chunks matching no term are omitted; ties break on ascending chunk id
// to keep rankings deterministic.
func (idx *bm25Index) search(query string, topK int) []lexicalHit {
	terms := tokenize(query)
	if len(terms) == 0 || idx.count == 0 {
		return nil
	}

	scores := make(map[int64]float64)
	for _, term := range terms {
		postings := idx.postings[term]
		if len(postings) == 0 {
			continue
		}
		df := float64(idx.docFreq[term])
		idf := math.Log((float64(idx.count)-df+0.5)/(df+0.5) + 1)

		for id, tf := range postings {
			docLen := float64(idx.lengths[id])
			num := float64(tf) * (bm25K1 + 1)
			den := float64(tf) + bm25K1*(1-bm25B+bm25B*docLen/idx.avgLen)
			scores[id] += idf * num / den
		}
	}

	hits := make([]lexicalHit, 0, len(scores))
	for id, score := range scores {
		if score <= 0 {
			continue
		}
		hits = append(hits, lexicalHit{ChunkID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// tokenize lowercases s and splits it on runs of characters outside
// [a-z0-9_]. Non-ASCII letters act as separators.
func tokenize(s string) []string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r - 'A' + 'a'
		default:
			return ' '
		}
	}, s)
	return strings.Fields(mapped)
}
