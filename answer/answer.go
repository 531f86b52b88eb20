// Package answer turns retrieved passages into a grounded, cited
// answer through a chat model.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docusense/docusense/llm"
	"github.com/docusense/docusense/retrieval"
)

// Generation parameters for the answer call.
const (
	answerTemperature = 0.7
	answerMaxTokens   = 500
)

const systemPrompt = `You are a helpful assistant that answers questions based on the provided context.`

// Citation points a bracketed marker in the answer back at the passage
// it cites.
type Citation struct {
	Index       int    `json:"index"`
	TextPreview string `json:"text_preview"`
	DocumentID  int64  `json:"document_id"`
	ChunkIndex  int    `json:"chunk_index"`
}

// Result is one generated answer with its extracted citations.
type Result struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	LatencyMS int64      `json:"latency_ms"`
	Model     string     `json:"model"`
}

// Service generates answers over one chat provider and model.
type Service struct {
	chat   llm.Provider
	model  string
	logger *slog.Logger
}

// New creates an answer service.
func New(chat llm.Provider, model string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{chat: chat, model: model, logger: logger}
}

// Generate prompts the model with the numbered contexts and extracts
// the citations the answer references.
func (s *Service) Generate(ctx context.Context, question string, contexts []retrieval.Result) (*Result, error) {
	prompt := buildPrompt(question, contexts)

	start := time.Now()
	resp, err := s.chat.Chat(ctx, llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: answerTemperature,
		MaxTokens:   answerMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	latency := time.Since(start).Milliseconds()

	model := resp.Model
	if model == "" {
		model = s.model
	}

	citations := extractCitations(resp.Content, contexts)
	s.logger.Debug("answer generated",
		"model", model,
		"contexts", len(contexts),
		"citations", len(citations),
		"latency_ms", latency)

	return &Result{
		Answer:    resp.Content,
		Citations: citations,
		LatencyMS: latency,
		Model:     model,
	}, nil
}

// buildPrompt numbers each context so the model can cite passages by
// position with bracketed markers.
func buildPrompt(question string, contexts []retrieval.Result) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, c := range contexts {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, c.Text)
	}
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	b.WriteString(`Instructions:
1. Answer based ONLY on the provided context
2. If the answer cannot be found in the context, say "I cannot answer this based on the provided documents"
3. Include citation numbers [1], [2], etc. when referencing specific information
4. Be concise and direct

Answer:`)
	return b.String()
}
