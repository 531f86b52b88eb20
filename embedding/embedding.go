// Package embedding wraps an llm.Provider with the vector hygiene the
// rest of docusense relies on: a model dimension probed once at
// startup, batched document embedding, and L2-normalized output
// suitable for cosine distance.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/docusense/docusense/llm"
)

const (
	// batchSize bounds how many texts go to the provider per call.
	batchSize = 32

	// batchTimeout bounds one provider call; the retry gets a fresh
	// deadline.
	batchTimeout = 60 * time.Second

	// bgeQueryPrefix is the instruction prefix BGE-family models expect
	// on retrieval queries but not on passages.
	bgeQueryPrefix = "Represent this sentence for searching relevant passages: "

	// probeText is embedded once at startup to discover the model dimension.
	probeText = "dimension probe"
)

// retryDelay is the pause before the single retry of a failed provider
// call. Tests shorten it.
var retryDelay = time.Second

var (
	// ErrZeroVector is returned when the provider produces an all-zero
	// embedding, which would be useless under cosine distance.
	ErrZeroVector = errors.New("embedding: provider returned a zero vector")

	// ErrDimensionMismatch is returned when a vector does not match the
	// dimension probed at startup.
	ErrDimensionMismatch = errors.New("embedding: vector dimension mismatch")
)

// Service embeds documents and queries through a single provider and
// model. The embedding dimension is probed once in New and frozen for
// the lifetime of the service.
type Service struct {
	provider llm.Provider
	model    string
	dim      int
	logger   *slog.Logger
}

// New probes the provider with a short text to discover the embedding
// dimension. The probe failing means the model backend is unusable, so
// New fails rather than deferring the error to the first ingestion.
func New(ctx context.Context, provider llm.Provider, model string, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{provider: provider, model: model, logger: logger}

	vecs, err := s.embed(ctx, []string{probeText})
	if err != nil {
		return nil, fmt.Errorf("probing embedding dimension: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, errors.New("embedding: dimension probe returned no vector")
	}
	s.dim = len(vecs[0])

	logger.Info("embedding model ready", "model", model, "dimension", s.dim)
	return s, nil
}

// Dimension reports the vector size probed at startup.
func (s *Service) Dimension() int { return s.dim }

// Model reports the embedding model name the service was built with.
func (s *Service) Model() string { return s.model }

// EmbedDocuments embeds texts in batches and L2-normalizes every
// vector. The result is index-aligned with texts.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))

		vecs, err := s.embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedding: provider returned %d vectors for %d texts", len(vecs), end-start)
		}
		for i, vec := range vecs {
			norm, err := s.normalize(vec)
			if err != nil {
				return nil, fmt.Errorf("embedding text %d: %w", start+i, err)
			}
			out = append(out, norm)
		}

		s.logger.Debug("embedded batch", "from", start, "to", end, "total", len(texts))
	}
	return out, nil
}

// EmbedQuery embeds a single retrieval query. BGE-family models receive
// the instruction prefix they were trained with; passage embeddings do
// not get it.
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if strings.Contains(strings.ToLower(s.model), "bge") {
		query = bgeQueryPrefix + query
	}

	vecs, err := s.embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding: provider returned %d vectors for one query", len(vecs))
	}
	return s.normalize(vecs[0])
}

// embed calls the provider, retrying once after a short pause.
func (s *Service) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := s.embedOnce(ctx, texts)
	if err == nil {
		return vecs, nil
	}

	s.logger.Warn("embedding call failed, retrying once", "error", err)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(retryDelay):
	}
	return s.embedOnce(ctx, texts)
}

func (s *Service) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()
	return s.provider.Embed(callCtx, texts)
}

// normalize checks the vector against the probed dimension and scales
// it to unit length. During the startup probe dim is still zero and the
// dimension check is skipped.
func (s *Service) normalize(vec []float32) ([]float32, error) {
	if s.dim != 0 && len(vec) != s.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), s.dim)
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil, ErrZeroVector
	}

	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) * inv)
	}
	return out, nil
}
