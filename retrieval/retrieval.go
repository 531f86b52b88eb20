// Package retrieval finds the chunks most relevant to a question by
// blending vector similarity with lexical BM25 scoring through
// reciprocal rank fusion.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/docusense/docusense/store"
)

// Defaults applied when Options fields are unset.
const (
	DefaultTopK         = 10
	DefaultVectorWeight = 0.7
)

// ChunkSource is the slice of the store the retriever reads.
type ChunkSource interface {
	NearestChunks(ctx context.Context, collectionID int64, vec []float32, k int) ([]store.ScoredChunk, error)
	ChunksByCollection(ctx context.Context, collectionID int64) ([]store.ChunkText, error)
	ChunksByIDs(ctx context.Context, ids []int64) ([]store.Chunk, error)
}

// QueryEmbedder turns a question into a vector in the chunk embedding space.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Options tune one retrieval pass.
type Options struct {
	// TopK caps the number of results. Zero means DefaultTopK.
	TopK int

	// VectorWeight is the share of fusion mass the vector leg gets; the
	// lexical leg gets the remainder. Values outside (0, 1] fall back
	// to DefaultVectorWeight.
	VectorWeight float64

	// Hybrid enables BM25 fusion. When false, vector similarity alone
	// ranks the results.
	Hybrid bool
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.VectorWeight <= 0 || o.VectorWeight > 1 {
		o.VectorWeight = DefaultVectorWeight
	}
	return o
}

// Result is one retrieved chunk. Score is cosine similarity on the pure
// vector path and the fused RRF score on the hybrid path.
type Result struct {
	ChunkID    int64
	DocumentID int64
	ChunkIndex int
	Text       string
	Score      float64
}

// Retriever answers "which chunks matter for this question" against one
// collection at a time.
type Retriever struct {
	chunks   ChunkSource
	embedder QueryEmbedder
	logger   *slog.Logger
	cache    *bm25Cache
}

// New creates a retriever over the given chunk source and query embedder.
func New(chunks ChunkSource, embedder QueryEmbedder, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		chunks:   chunks,
		embedder: embedder,
		logger:   logger,
		cache:    newBM25Cache(),
	}
}

// InvalidateCollection drops any cached lexical index for the
// collection. Ingestion calls this after chunks are inserted or deleted.
func (r *Retriever) InvalidateCollection(collectionID int64) {
	r.cache.bump(collectionID)
}

// Search retrieves the chunks most relevant to the question. The vector
// and lexical legs each pull twice the requested number of candidates
// and run concurrently; fusion trims the blend back to TopK. Questions
// with no indexable terms, and callers that disable hybrid mode, take
// the pure vector path.
func (r *Retriever) Search(ctx context.Context, question string, collectionID int64, opts Options) ([]Result, error) {
	opts = opts.withDefaults()

	queryVec, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	if !opts.Hybrid || len(tokenize(question)) == 0 {
		return r.vectorOnly(ctx, collectionID, queryVec, opts.TopK)
	}

	candidateK := 2 * opts.TopK

	var (
		vecHits []store.ScoredChunk
		lexHits []lexicalHit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vecHits, err = r.chunks.NearestChunks(gctx, collectionID, queryVec, candidateK)
		if err != nil {
			return fmt.Errorf("vector leg: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		lexHits, err = r.lexicalSearch(gctx, collectionID, question, candidateK)
		if err != nil {
			return fmt.Errorf("lexical leg: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(vecHits) == 0 {
		return nil, nil
	}

	vectorIDs := make([]int64, len(vecHits))
	for i, h := range vecHits {
		vectorIDs[i] = h.ID
	}
	fused := fuseHybrid(vectorIDs, lexHits, opts.VectorWeight, opts.TopK)

	r.logger.Debug("hybrid retrieval",
		"collection_id", collectionID,
		"vector_hits", len(vecHits),
		"lexical_hits", len(lexHits),
		"fused", len(fused))

	return r.hydrate(ctx, fused)
}

// vectorOnly ranks by cosine similarity alone.
func (r *Retriever) vectorOnly(ctx context.Context, collectionID int64, vec []float32, topK int) ([]Result, error) {
	hits, err := r.chunks.NearestChunks(ctx, collectionID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			ChunkID:    h.ID,
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Text:       h.Text,
			Score:      h.Similarity,
		})
	}
	return out, nil
}

// lexicalSearch runs the BM25 leg over the collection's current index.
func (r *Retriever) lexicalSearch(ctx context.Context, collectionID int64, question string, topK int) ([]lexicalHit, error) {
	idx, err := r.collectionIndex(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, nil
	}
	return idx.search(question, topK), nil
}

// collectionIndex returns the cached lexical index for the collection,
// building one from a fresh chunk snapshot when the cache misses.
func (r *Retriever) collectionIndex(ctx context.Context, collectionID int64) (*bm25Index, error) {
	version, idx := r.cache.get(collectionID)
	if idx != nil {
		return idx, nil
	}

	chunks, err := r.chunks.ChunksByCollection(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("loading chunk snapshot: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	idx = newBM25Index(chunks)
	r.cache.put(collectionID, version, idx)
	r.logger.Debug("built lexical index", "collection_id", collectionID, "chunks", len(chunks))
	return idx, nil
}

// hydrate loads full chunk rows for the fused ids and restores the
// fusion order, which the store's id-ordered reads do not preserve.
func (r *Retriever) hydrate(ctx context.Context, fused []fusedHit) ([]Result, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	rows, err := r.chunks.ChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrating results: %w", err)
	}

	byID := make(map[int64]store.Chunk, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}

	out := make([]Result, 0, len(fused))
	for _, f := range fused {
		c, ok := byID[f.ChunkID]
		if !ok {
			// Chunk deleted between fusion and hydration.
			continue
		}
		out = append(out, Result{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Text:       c.Text,
			Score:      f.Score,
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Lexical index cache
// ---------------------------------------------------------------------------

// bm25Cache memoizes per-collection lexical indexes. Every chunk insert
// or delete bumps the collection's version, orphaning whatever index
// was built before it; a put racing a bump is dropped rather than
// poisoning the cache.
type bm25Cache struct {
	mu       sync.RWMutex
	versions map[int64]uint64
	entries  map[int64]cachedIndex
}

type cachedIndex struct {
	version uint64
	idx     *bm25Index
}

func newBM25Cache() *bm25Cache {
	return &bm25Cache{
		versions: make(map[int64]uint64),
		entries:  make(map[int64]cachedIndex),
	}
}

// get returns the collection's current version and, when fresh, its
// cached index.
func (c *bm25Cache) get(collectionID int64) (uint64, *bm25Index) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	version := c.versions[collectionID]
	if e, ok := c.entries[collectionID]; ok && e.version == version {
		return version, e.idx
	}
	return version, nil
}

// put caches an index built against the given version.
func (c *bm25Cache) put(collectionID int64, version uint64, idx *bm25Index) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.versions[collectionID] != version {
		return
	}
	c.entries[collectionID] = cachedIndex{version: version, idx: idx}
}

// bump invalidates any cached index for the collection.
func (c *bm25Cache) bump(collectionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.versions[collectionID]++
	delete(c.entries, collectionID)
}
