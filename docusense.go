// Package docusense composes the document question-answering service:
// a Postgres+pgvector catalog, a token-aware chunker, an embedding
// service, hybrid retrieval, answer generation, and an asynchronous
// ingestion pool, behind one Service interface the HTTP layer calls.
package docusense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docusense/docusense/answer"
	"github.com/docusense/docusense/chunker"
	"github.com/docusense/docusense/embedding"
	"github.com/docusense/docusense/ingest"
	"github.com/docusense/docusense/llm"
	"github.com/docusense/docusense/parser"
	"github.com/docusense/docusense/retrieval"
	"github.com/docusense/docusense/store"
)

// answerContexts is how many retrieved chunks the generator sees.
const answerContexts = 5

// Service is the main entry point for the DocuSense engine.
type Service interface {
	// CreateCollection makes a new named document group.
	CreateCollection(ctx context.Context, name, description string) (*store.Collection, error)

	// GetCollection reads one collection with its document count.
	GetCollection(ctx context.Context, id int64) (*store.Collection, error)

	// ListCollections returns all collections.
	ListCollections(ctx context.Context) ([]store.Collection, error)

	// IngestUpload stages an uploaded file, rejects duplicates
	// synchronously, and queues the ingestion job.
	IngestUpload(ctx context.Context, collectionID int64, filename string, file io.Reader) (*IngestReceipt, error)

	// IngestURL creates a provisional document for the URL and queues
	// the ingestion job; dedup happens inside the job after fetching.
	IngestURL(ctx context.Context, collectionID int64, url, title string) (*IngestReceipt, error)

	// JobStatus reads the durable record of an ingestion job.
	JobStatus(ctx context.Context, id string) (*store.IngestJob, error)

	// Ask answers a question against one collection.
	Ask(ctx context.Context, req AskRequest) (*AskResponse, error)

	// SubmitFeedback records the single user verdict for a query.
	SubmitFeedback(ctx context.Context, queryID int64, value int, note string) (*store.Feedback, error)

	// Metrics reports store-wide usage counters.
	Metrics(ctx context.Context) (*store.Metrics, error)

	// Close drains the ingestion pool and closes the store.
	Close()
}

// AskRequest carries one question. TopK <= 0 selects the default;
// UseHybrid false selects the pure vector path.
type AskRequest struct {
	Question     string
	CollectionID int64
	TopK         int
	UseHybrid    bool
}

// AskResponse is the answer payload. LatencyMS covers the whole
// request; the audit row keeps the generation latency separately.
type AskResponse struct {
	Answer     string            `json:"answer"`
	Citations  []answer.Citation `json:"citations"`
	Confidence float64           `json:"confidence"`
	LatencyMS  int64             `json:"latency_ms"`
}

// IngestReceipt acknowledges an accepted ingestion.
type IngestReceipt struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Narrow views of the wired subsystems; the concrete types satisfy
// them, tests substitute fakes.
type catalog interface {
	CreateCollection(ctx context.Context, name, description string) (*store.Collection, error)
	GetCollection(ctx context.Context, id int64) (*store.Collection, error)
	ListCollections(ctx context.Context) ([]store.Collection, error)
	CreateDocument(ctx context.Context, doc store.Document) (int64, error)
	FindDocumentByChecksum(ctx context.Context, checksum string) (*store.Document, error)
	DeleteDocument(ctx context.Context, id int64) error
	RecordQuery(ctx context.Context, q store.QueryRecord, chunks []store.QueryChunk) (int64, error)
	UpsertFeedback(ctx context.Context, queryID int64, value int, note string) (*store.Feedback, error)
	Metrics(ctx context.Context) (*store.Metrics, error)
	Close()
}

type searcher interface {
	Search(ctx context.Context, question string, collectionID int64, opts retrieval.Options) ([]retrieval.Result, error)
}

type answerer interface {
	Generate(ctx context.Context, question string, contexts []retrieval.Result) (*answer.Result, error)
}

type jobManager interface {
	Submit(ctx context.Context, collectionID, documentID int64, src ingest.Source) (string, error)
	Status(ctx context.Context, id string) (*store.IngestJob, error)
	Close()
}

// service is the concrete implementation of Service.
type service struct {
	cfg       Config
	store     catalog
	retriever searcher
	answerer  answerer
	jobs      jobManager
	logger    *slog.Logger
}

var _ Service = (*service)(nil)

// New wires the service from configuration. The embedding model is
// probed first so the store schema can be created with the live
// dimension; a dimension recorded by an earlier run that disagrees with
// the live model aborts startup.
func New(ctx context.Context, cfg Config) (Service, error) {
	logger := slog.Default()

	chatLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider,
		Model:    cfg.Chat.Model,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}

	embedLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	embedder, err := embedding.New(ctx, embedLLM, cfg.Embedding.Model, logger)
	if err != nil {
		return nil, fmt.Errorf("starting embedding service: %w", err)
	}

	st, err := store.New(ctx, cfg.DatabaseURL, embedder.Dimension())
	if errors.Is(err, store.ErrDimensionMismatch) {
		return nil, fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
	}
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	chunkr := chunker.New(chunker.Config{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	})
	retriever := retrieval.New(st, embedder, logger)
	answerer := answer.New(chatLLM, cfg.Chat.Model, logger)

	pipeline := ingest.NewPipeline(st, chunkr, embedder, retriever, logger)
	manager, err := ingest.NewManager(ctx, st, pipeline, cfg.Workers, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("starting job manager: %w", err)
	}

	return &service{
		cfg:       cfg,
		store:     st,
		retriever: retriever,
		answerer:  answerer,
		jobs:      manager,
		logger:    logger,
	}, nil
}

// ---------------------------------------------------------------------------
// Collections

func (s *service) CreateCollection(ctx context.Context, name, description string) (*store.Collection, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: collection name is required", ErrValidation)
	}
	col, err := s.store.CreateCollection(ctx, name, description)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}
	return col, err
}

func (s *service) GetCollection(ctx context.Context, id int64) (*store.Collection, error) {
	col, err := s.store.GetCollection(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrCollectionNotFound, id)
	}
	return col, err
}

func (s *service) ListCollections(ctx context.Context) ([]store.Collection, error) {
	return s.store.ListCollections(ctx)
}

// ---------------------------------------------------------------------------
// Ingestion

func (s *service) IngestUpload(ctx context.Context, collectionID int64, filename string, file io.Reader) (*IngestReceipt, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: file is required", ErrValidation)
	}
	if err := s.requireCollection(ctx, collectionID); err != nil {
		return nil, err
	}

	kind := kindFromFilename(filename)
	src := ingest.Source{Kind: kind, Title: filename}

	// Parse synchronously so duplicates are rejected before any rows
	// exist. The job parses again from the staged source.
	var parsed *parser.Result
	switch kind {
	case parser.TypePDF:
		path, err := stageTemp(file)
		if err != nil {
			return nil, fmt.Errorf("staging upload: %w", err)
		}
		parsed, err = parser.ParsePDF(path)
		if err != nil {
			os.Remove(path)
			return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
		}
		src.Path = path
		src.Temp = true
	default:
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("reading upload: %w", err)
		}
		content := string(data)
		if kind == parser.TypeMarkdown {
			parsed = parser.ParseMarkdown(content)
		} else {
			parsed = parser.ParseText(content)
		}
		src.Inline = content
	}

	discard := func() {
		if src.Temp {
			os.Remove(src.Path)
		}
	}

	checksum := parser.Checksum(parsed.Text)
	_, err := s.store.FindDocumentByChecksum(ctx, checksum)
	switch {
	case err == nil:
		discard()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateDocument, filename)
	case !errors.Is(err, store.ErrNotFound):
		discard()
		return nil, fmt.Errorf("checking for duplicates: %w", err)
	}

	meta, err := json.Marshal(parsed.Meta)
	if err != nil {
		meta = nil
	}
	docID, err := s.store.CreateDocument(ctx, store.Document{
		CollectionID: collectionID,
		Title:        filename,
		SourceType:   kind,
		Checksum:     checksum,
		Metadata:     meta,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Lost the checksum race to a concurrent upload.
		discard()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateDocument, filename)
	}
	if err != nil {
		discard()
		return nil, fmt.Errorf("creating document: %w", err)
	}

	jobID, err := s.submit(ctx, collectionID, docID, src)
	if err != nil {
		discard()
		return nil, err
	}

	s.logger.Info("upload accepted",
		"collection_id", collectionID, "document_id", docID, "job_id", jobID,
		"file", filename, "kind", kind)
	return &IngestReceipt{
		JobID:   jobID,
		Status:  store.JobPending,
		Message: fmt.Sprintf("Document '%s' queued for processing", filename),
	}, nil
}

func (s *service) IngestURL(ctx context.Context, collectionID int64, url, title string) (*IngestReceipt, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: url is required", ErrValidation)
	}
	if err := s.requireCollection(ctx, collectionID); err != nil {
		return nil, err
	}

	// The row is provisional: the job fills in checksum and metadata
	// after fetching, and deletes the row if the content is a duplicate.
	docID, err := s.store.CreateDocument(ctx, store.Document{
		CollectionID: collectionID,
		Title:        title,
		SourceType:   parser.TypeURL,
		SourceURL:    url,
	})
	if err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}

	jobID, err := s.submit(ctx, collectionID, docID, ingest.Source{
		Kind:  parser.TypeURL,
		URL:   url,
		Title: title,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("url ingestion accepted",
		"collection_id", collectionID, "document_id", docID, "job_id", jobID, "url", url)
	return &IngestReceipt{
		JobID:   jobID,
		Status:  store.JobPending,
		Message: fmt.Sprintf("URL '%s' queued for processing", url),
	}, nil
}

// submit queues the job, removing the document row again if the job
// never made it into the store.
func (s *service) submit(ctx context.Context, collectionID, docID int64, src ingest.Source) (string, error) {
	jobID, err := s.jobs.Submit(ctx, collectionID, docID, src)
	if err != nil {
		if derr := s.store.DeleteDocument(ctx, docID); derr != nil {
			s.logger.Error("orphaned document cleanup failed", "document_id", docID, "error", derr)
		}
		return "", fmt.Errorf("queueing ingestion: %w", err)
	}
	return jobID, nil
}

func (s *service) JobStatus(ctx context.Context, id string) (*store.IngestJob, error) {
	job, err := s.jobs.Status(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, err
}

// ---------------------------------------------------------------------------
// Query

func (s *service) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	started := time.Now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrValidation)
	}
	if err := s.requireCollection(ctx, req.CollectionID); err != nil {
		return nil, err
	}

	results, err := s.retriever.Search(ctx, question, req.CollectionID, retrieval.Options{
		TopK:         req.TopK,
		VectorWeight: s.cfg.VectorWeight,
		Hybrid:       req.UseHybrid,
	})
	if err != nil {
		if errors.Is(err, embedding.ErrZeroVector) || errors.Is(err, embedding.ErrDimensionMismatch) {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		return nil, fmt.Errorf("retrieving context: %w", err)
	}
	// Vector search returns the k nearest chunks unconditionally, so an
	// empty result means the collection has nothing ingested.
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: collection %d", ErrNoChunks, req.CollectionID)
	}

	confidence := answer.Answerability(question, results)
	if confidence < answer.MinAnswerableConfidence {
		return s.refuse(ctx, req.CollectionID, question, confidence, started)
	}

	contexts := results
	if len(contexts) > answerContexts {
		contexts = contexts[:answerContexts]
	}

	generated, err := s.answerer.Generate(ctx, question, contexts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}

	citations := generated.Citations
	if citations == nil {
		citations = []answer.Citation{}
	}
	citJSON, err := json.Marshal(citations)
	if err != nil {
		citJSON = json.RawMessage(`[]`)
	}

	grounding := make([]store.QueryChunk, len(contexts))
	for i, r := range contexts {
		grounding[i] = store.QueryChunk{ChunkID: r.ChunkID, Rank: i + 1, Score: r.Score}
	}
	queryID, err := s.store.RecordQuery(ctx, store.QueryRecord{
		CollectionID:   req.CollectionID,
		Question:       question,
		Answer:         generated.Answer,
		Citations:      citJSON,
		LatencyMS:      generated.LatencyMS,
		LLMModel:       generated.Model,
		RetrievalScore: confidence,
	}, grounding)
	if err != nil {
		return nil, fmt.Errorf("%w: recording query: %v", ErrStorageFailed, err)
	}

	latency := time.Since(started).Milliseconds()
	s.logger.Info("question answered",
		"collection_id", req.CollectionID, "query_id", queryID,
		"confidence", confidence, "citations", len(citations), "latency_ms", latency)
	return &AskResponse{
		Answer:     generated.Answer,
		Citations:  citations,
		Confidence: confidence,
		LatencyMS:  latency,
	}, nil
}

// refuse answers with the fixed insufficient-information message. The
// audit row is still written so feedback can reference the query.
func (s *service) refuse(ctx context.Context, collectionID int64, question string, confidence float64, started time.Time) (*AskResponse, error) {
	latency := time.Since(started).Milliseconds()
	queryID, err := s.store.RecordQuery(ctx, store.QueryRecord{
		CollectionID:   collectionID,
		Question:       question,
		Answer:         answer.InsufficientInfoAnswer,
		Citations:      json.RawMessage(`[]`),
		LatencyMS:      latency,
		LLMModel:       s.cfg.Chat.Model,
		RetrievalScore: confidence,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: recording query: %v", ErrStorageFailed, err)
	}

	s.logger.Info("question refused",
		"collection_id", collectionID, "query_id", queryID, "confidence", confidence)
	return &AskResponse{
		Answer:     answer.InsufficientInfoAnswer,
		Citations:  []answer.Citation{},
		Confidence: confidence,
		LatencyMS:  time.Since(started).Milliseconds(),
	}, nil
}

func (s *service) SubmitFeedback(ctx context.Context, queryID int64, value int, note string) (*store.Feedback, error) {
	if value != 1 && value != -1 {
		return nil, fmt.Errorf("%w: feedback value must be 1 or -1", ErrValidation)
	}
	fb, err := s.store.UpsertFeedback(ctx, queryID, value, note)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrQueryNotFound, queryID)
	}
	return fb, err
}

func (s *service) Metrics(ctx context.Context) (*store.Metrics, error) {
	return s.store.Metrics(ctx)
}

// Close drains in-flight ingestion jobs, then closes the store.
func (s *service) Close() {
	s.jobs.Close()
	s.store.Close()
}

// ---------------------------------------------------------------------------
// Helpers

func (s *service) requireCollection(ctx context.Context, id int64) error {
	_, err := s.store.GetCollection(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrCollectionNotFound, id)
	}
	return err
}

// kindFromFilename maps an upload's extension to a source kind.
func kindFromFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return parser.TypePDF
	case ".md", ".markdown":
		return parser.TypeMarkdown
	default:
		return parser.TypeText
	}
}

// stageTemp copies an upload to a temporary file and returns its path.
// The caller owns the file.
func stageTemp(file io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "docusense-upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
