// Package ingest drives asynchronous document ingestion: a staged
// pipeline that parses, deduplicates, chunks, embeds and persists one
// document per job, and a bounded worker pool that runs those jobs.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/docusense/docusense/chunker"
	"github.com/docusense/docusense/parser"
	"github.com/docusense/docusense/store"
)

// Progress values written to the job record as stages complete.
const (
	progressParsing  = 10
	progressParsed   = 30
	progressChunked  = 50
	progressEmbedded = 80
)

// Storage writes get one try plus three retries.
const storageAttempts = 4

// storageBackoff is the first retry wait; it doubles per attempt. Tests
// shorten it.
var storageBackoff = 250 * time.Millisecond

// msgDuplicate is the job failure message for content that already
// exists in the store.
const msgDuplicate = "document already exists"

// Source describes where one document's content comes from. Exactly one
// of Path, URL or Inline is set, matching Kind.
type Source struct {
	Kind   string // parser.TypePDF, TypeURL, TypeMarkdown or TypeText
	Path   string // pdf: local file path
	URL    string // url: remote address
	Inline string // markdown/text: raw content
	Title  string // optional; overrides the parsed title
	Temp   bool   // Path is a temporary file removed after parsing
}

// PipelineStore is the durable state the pipeline reads and writes.
type PipelineStore interface {
	UpdateJobProgress(ctx context.Context, id, status string, progress int) error
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, message string) error
	FindDocumentByChecksum(ctx context.Context, checksum string) (*store.Document, error)
	UpdateDocumentParsed(ctx context.Context, id int64, title, checksum string, metadata json.RawMessage) error
	DeleteDocument(ctx context.Context, id int64) error
	InsertChunks(ctx context.Context, documentID int64, chunks []store.Chunk) error
	DeleteChunksByDocument(ctx context.Context, documentID int64) error
}

// Chunker splits parsed text into indexed chunks.
type Chunker interface {
	Split(text string) []chunker.Chunk
	SplitMarkdown(text string) []chunker.Chunk
}

// Embedder embeds chunk texts in document mode.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Notifier learns when a collection's chunks changed, so retrieval
// caches can drop stale indexes.
type Notifier interface {
	InvalidateCollection(collectionID int64)
}

// Pipeline runs the ingestion stages for one job. Every failure lands
// on the job record; Run's error return restates it for the worker log.
type Pipeline struct {
	store    PipelineStore
	chunker  Chunker
	embedder Embedder
	notifier Notifier
	logger   *slog.Logger
}

// NewPipeline assembles a pipeline. notifier may be nil.
func NewPipeline(st PipelineStore, ch Chunker, emb Embedder, notifier Notifier, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: st, chunker: ch, embedder: emb, notifier: notifier, logger: logger}
}

// Run drives parse, dedup, chunk, embed and persist for one job. The
// job must reference the provisional document row created at
// submission; on a duplicate that row is deleted so the ingestion
// leaves no trace.
func (p *Pipeline) Run(ctx context.Context, job store.IngestJob, src Source) error {
	if job.DocumentID == nil {
		return p.fail(ctx, job, errors.New("job has no document"))
	}
	docID := *job.DocumentID

	p.logger.Info("ingest: job started",
		"job_id", job.ID, "document_id", docID, "kind", src.Kind)

	if err := p.store.UpdateJobProgress(ctx, job.ID, store.JobProcessing, progressParsing); err != nil {
		return fmt.Errorf("marking job processing: %w", err)
	}

	parsed, err := p.parse(ctx, src)
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("parsing document: %w", err))
	}

	// Dedup on the canonical text. The document row always exists at
	// this point, so a checksum hit on any other row is a duplicate.
	checksum := parser.Checksum(parsed.Text)
	dup, err := p.isDuplicate(ctx, checksum, docID)
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("checking for duplicates: %w", err))
	}
	if dup {
		p.deleteDocument(ctx, docID)
		return p.fail(ctx, job, errors.New(msgDuplicate))
	}

	title := src.Title
	if title == "" {
		title = parsed.Title
	}
	meta, err := json.Marshal(parsed.Meta)
	if err != nil {
		meta = nil
	}
	err = p.retryStorage(ctx, func() error {
		return p.store.UpdateDocumentParsed(ctx, docID, title, checksum, meta)
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Lost the checksum race to a concurrent ingestion.
		p.deleteDocument(ctx, docID)
		return p.fail(ctx, job, errors.New(msgDuplicate))
	}
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("recording parsed document: %w", err))
	}
	p.progress(ctx, job.ID, progressParsed)

	var chunks []chunker.Chunk
	if src.Kind == parser.TypeMarkdown {
		chunks = p.chunker.SplitMarkdown(parsed.Text)
	} else {
		chunks = p.chunker.Split(parsed.Text)
	}
	if len(chunks) == 0 {
		return p.fail(ctx, job, errors.New("document produced no chunks"))
	}
	p.progress(ctx, job.ID, progressChunked)

	// From here on a failure must leave zero chunks behind.
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return p.failCleanup(ctx, job, docID, fmt.Errorf("embedding document: %w", err))
	}
	if len(vectors) != len(chunks) {
		return p.failCleanup(ctx, job, docID,
			fmt.Errorf("embedding returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}
	p.progress(ctx, job.ID, progressEmbedded)

	rows := make([]store.Chunk, len(chunks))
	for i, c := range chunks {
		cm, err := json.Marshal(c.Meta)
		if err != nil {
			cm = nil
		}
		rows[i] = store.Chunk{
			DocumentID: docID,
			Text:       c.Text,
			TokenCount: c.TokenCount,
			ChunkIndex: c.Index,
			StartChar:  c.StartChar,
			EndChar:    c.EndChar,
			Embedding:  vectors[i],
			Metadata:   cm,
		}
	}
	err = p.retryStorage(ctx, func() error {
		return p.store.InsertChunks(ctx, docID, rows)
	})
	if err != nil {
		return p.failCleanup(ctx, job, docID, fmt.Errorf("storing chunks: %w", err))
	}

	if err := p.store.CompleteJob(ctx, job.ID); err != nil {
		return fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	if p.notifier != nil {
		p.notifier.InvalidateCollection(job.CollectionID)
	}

	p.logger.Info("ingest: job completed",
		"job_id", job.ID, "document_id", docID, "chunks", len(chunks))
	return nil
}

// parse dispatches to the parser for the source kind. Temporary upload
// files are removed here, success or not.
func (p *Pipeline) parse(ctx context.Context, src Source) (*parser.Result, error) {
	switch src.Kind {
	case parser.TypePDF:
		if src.Temp {
			defer os.Remove(src.Path)
		}
		return parser.ParsePDF(src.Path)
	case parser.TypeURL:
		return parser.ParseURL(ctx, src.URL)
	case parser.TypeMarkdown:
		return parser.ParseMarkdown(src.Inline), nil
	case parser.TypeText:
		return parser.ParseText(src.Inline), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}

// isDuplicate reports whether the checksum belongs to a document other
// than the one being ingested.
func (p *Pipeline) isDuplicate(ctx context.Context, checksum string, docID int64) (bool, error) {
	existing, err := p.store.FindDocumentByChecksum(ctx, checksum)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return existing.ID != docID, nil
}

// retryStorage runs fn up to storageAttempts times, doubling the wait
// between tries. Duplicate and not-found errors are permanent and
// returned immediately.
func (p *Pipeline) retryStorage(ctx context.Context, fn func() error) error {
	var err error
	wait := storageBackoff
	for attempt := 1; attempt <= storageAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, store.ErrDuplicate) || errors.Is(err, store.ErrNotFound) {
			return err
		}
		if attempt == storageAttempts {
			break
		}
		p.logger.Warn("ingest: storage write failed, retrying",
			"attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}

// progress records a stage transition; a failed write only costs the
// progress display, so it is logged and ignored.
func (p *Pipeline) progress(ctx context.Context, jobID string, value int) {
	if err := p.store.UpdateJobProgress(ctx, jobID, store.JobProcessing, value); err != nil {
		p.logger.Warn("ingest: progress update failed",
			"job_id", jobID, "progress", value, "error", err)
	}
}

// fail records the failure on the job record. The write uses a fresh
// deadline so that a cancelled or timed-out job still lands as failed.
func (p *Pipeline) fail(ctx context.Context, job store.IngestJob, cause error) error {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.store.FailJob(failCtx, job.ID, cause.Error()); err != nil {
		p.logger.Error("ingest: could not record job failure",
			"job_id", job.ID, "cause", cause, "error", err)
	}
	p.logger.Warn("ingest: job failed", "job_id", job.ID, "error", cause)
	return cause
}

// failCleanup removes any chunks the failed ingestion wrote before
// recording the failure, so a failed document never contributes to
// retrieval.
func (p *Pipeline) failCleanup(ctx context.Context, job store.IngestJob, docID int64, cause error) error {
	cleanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := p.store.DeleteChunksByDocument(cleanCtx, docID); err != nil {
		p.logger.Error("ingest: chunk cleanup failed",
			"job_id", job.ID, "document_id", docID, "error", err)
	}
	if p.notifier != nil {
		p.notifier.InvalidateCollection(job.CollectionID)
	}
	return p.fail(ctx, job, cause)
}

// deleteDocument removes the provisional document row after a duplicate
// was detected; its chunks cascade.
func (p *Pipeline) deleteDocument(ctx context.Context, docID int64) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.store.DeleteDocument(delCtx, docID); err != nil && !errors.Is(err, store.ErrNotFound) {
		p.logger.Error("ingest: document cleanup failed", "document_id", docID, "error", err)
	}
}
