package retrieval

import "sort"

// rrfK is the reciprocal rank fusion constant. It damps the score gap
// between adjacent ranks so a single leg cannot dominate the blend.
const rrfK = 60

// fusedHit is a chunk id with its blended relevance score.
type fusedHit struct {
	ChunkID int64
	Score   float64
}

// fuseHybrid blends the vector and lexical rankings with reciprocal
// rank fusion. The vector leg contributes weight/(k+rank+1) for every
// candidate; the lexical leg contributes (1-weight)/(k+rank+1) but only
// for chunks the vector leg already surfaced. The fused set is
// therefore always a subset of the vector candidates: lexical matches
// can promote a semantically plausible chunk, never smuggle in an
// unrelated one. Results sort by score descending, ties on ascending
// chunk id, truncated to topK.
func fuseHybrid(vectorIDs []int64, lexical []lexicalHit, vectorWeight float64, topK int) []fusedHit {
	if len(vectorIDs) == 0 {
		return nil
	}

	inVector := make(map[int64]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		inVector[id] = struct{}{}
	}

	scores := make(map[int64]float64, len(vectorIDs))
	for rank, id := range vectorIDs {
		scores[id] += vectorWeight / float64(rrfK+rank+1)
	}
	lexWeight := 1 - vectorWeight
	for rank, hit := range lexical {
		if _, ok := inVector[hit.ChunkID]; !ok {
			continue
		}
		scores[hit.ChunkID] += lexWeight / float64(rrfK+rank+1)
	}

	fused := make([]fusedHit, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, fusedHit{ChunkID: id, Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ChunkID < fused[j].ChunkID
	})
	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}
