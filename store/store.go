// Package store persists collections, documents, chunks, ingestion jobs
// and the query audit trail in Postgres. Embeddings live inline on the
// chunks table as a pgvector column, so a chunk and its vector are
// always committed together.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("store: duplicate")

	// ErrDimensionMismatch is returned when the schema was created for a
	// different embedding dimension than the one requested.
	ErrDimensionMismatch = errors.New("store: embedding dimension mismatch")
)

// Ingestion job states. Terminal states (completed, failed) are sticky.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Collection is a named group of documents.
type Collection struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	DocumentCount int       `json:"document_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Document is one ingested source within a collection.
type Document struct {
	ID           int64           `json:"id"`
	CollectionID int64           `json:"collection_id"`
	Title        string          `json:"title"`
	SourceType   string          `json:"source_type"`
	SourceURL    string          `json:"source_url,omitempty"`
	Checksum     string          `json:"checksum,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Chunk is a contiguous span of document text with its embedding.
// Embedding is write-only: read paths never hydrate the vector.
type Chunk struct {
	ID         int64           `json:"id"`
	DocumentID int64           `json:"document_id"`
	Text       string          `json:"text"`
	TokenCount int             `json:"token_count"`
	ChunkIndex int             `json:"chunk_index"`
	StartChar  int             `json:"start_char"`
	EndChar    int             `json:"end_char"`
	Embedding  []float32       `json:"-"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// ChunkText is the minimal projection used to build lexical indexes.
type ChunkText struct {
	ID   int64
	Text string
}

// ScoredChunk is a chunk row with its cosine similarity to a query vector.
type ScoredChunk struct {
	Chunk
	Similarity float64 `json:"similarity"`
}

// IngestJob tracks one asynchronous ingestion.
type IngestJob struct {
	ID           string     `json:"job_id"`
	CollectionID int64      `json:"collection_id"`
	DocumentID   *int64     `json:"document_id,omitempty"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// QueryRecord is the audit row for one answered question.
type QueryRecord struct {
	ID             int64           `json:"id"`
	CollectionID   int64           `json:"collection_id"`
	Question       string          `json:"question"`
	Answer         string          `json:"answer"`
	Citations      json.RawMessage `json:"citations"`
	LatencyMS      int64           `json:"latency_ms"`
	LLMModel       string          `json:"llm_model"`
	RetrievalScore float64         `json:"retrieval_score"`
	CreatedAt      time.Time       `json:"created_at"`
}

// QueryChunk links a query to one chunk that grounded its answer.
type QueryChunk struct {
	ChunkID int64   `json:"chunk_id"`
	Rank    int     `json:"rank"`
	Score   float64 `json:"score"`
}

// Feedback is the single user verdict attached to a query.
type Feedback struct {
	ID        int64     `json:"id"`
	QueryID   int64     `json:"query_id"`
	Value     int       `json:"value"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Metrics aggregates store-wide usage counters.
type Metrics struct {
	TotalCollections int64   `json:"total_collections"`
	TotalDocuments   int64   `json:"total_documents"`
	TotalChunks      int64   `json:"total_chunks"`
	TotalQueries     int64   `json:"total_queries"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
}

// Terminal job states are sticky: progress, completion and failure
// updates only apply while the job is still pending or processing.
const (
	sqlJobProgress = `UPDATE ingest_jobs SET status = $2, progress = $3
		WHERE id = $1 AND status IN ('pending', 'processing')`
	sqlJobComplete = `UPDATE ingest_jobs SET status = 'completed', progress = 100, completed_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')`
	sqlJobFail = `UPDATE ingest_jobs SET status = 'failed', error_message = $2, completed_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')`
	sqlJobSweep = `UPDATE ingest_jobs SET status = 'failed', error_message = 'interrupted', completed_at = now()
		WHERE status IN ('pending', 'processing')`
)

// Store wraps a Postgres connection pool for all docusense persistence.
type Store struct {
	pool         *pgxpool.Pool
	embeddingDim int
}

// New connects to Postgres, creates the pgvector extension and schema if
// absent, and verifies the recorded embedding dimension. Opening an
// existing store with a different dimension returns ErrDimensionMismatch.
func New(ctx context.Context, databaseURL string, embeddingDim int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL(embeddingDim)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{pool: pool, embeddingDim: embeddingDim}
	if err := s.checkDimension(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// checkDimension records the embedding dimension on first boot and
// refuses to open a schema recorded with a different one.
func (s *Store) checkDimension(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO schema_meta (key, value) VALUES ('embedding_dim', $1) ON CONFLICT (key) DO NOTHING`,
		strconv.Itoa(s.embeddingDim)); err != nil {
		return fmt.Errorf("recording embedding dimension: %w", err)
	}
	var recorded string
	if err := s.pool.QueryRow(ctx,
		`SELECT value FROM schema_meta WHERE key = 'embedding_dim'`).Scan(&recorded); err != nil {
		return fmt.Errorf("reading embedding dimension: %w", err)
	}
	if recorded != strconv.Itoa(s.embeddingDim) {
		return fmt.Errorf("schema has dimension %s, model produces %d: %w",
			recorded, s.embeddingDim, ErrDimensionMismatch)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EmbeddingDim returns the vector dimension the store was opened with.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ---------------------------------------------------------------------------
// Collections
// ---------------------------------------------------------------------------

// CreateCollection inserts a new collection. Names are unique; a taken
// name returns ErrDuplicate.
func (s *Store) CreateCollection(ctx context.Context, name, description string) (*Collection, error) {
	var c Collection
	err := s.pool.QueryRow(ctx, `
		INSERT INTO collections (name, description) VALUES ($1, $2)
		RETURNING id, name, description, created_at`,
		name, description).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("collection %q: %w", name, ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("inserting collection: %w", err)
	}
	return &c, nil
}

// GetCollection returns one collection with its document count.
func (s *Store) GetCollection(ctx context.Context, id int64) (*Collection, error) {
	var c Collection
	err := s.pool.QueryRow(ctx, `
		SELECT c.id, c.name, c.description, c.created_at,
		       (SELECT COUNT(*) FROM documents d WHERE d.collection_id = c.id)
		FROM collections c
		WHERE c.id = $1`,
		id).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.DocumentCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("collection %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting collection: %w", err)
	}
	return &c, nil
}

// ListCollections returns all collections with document counts, oldest first.
func (s *Store) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, c.description, c.created_at,
		       (SELECT COUNT(*) FROM documents d WHERE d.collection_id = c.id)
		FROM collections c
		ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.DocumentCount); err != nil {
			return nil, fmt.Errorf("scanning collection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

// CreateDocument inserts a document row and returns its id. A non-empty
// checksum that already exists store-wide returns ErrDuplicate.
func (s *Store) CreateDocument(ctx context.Context, doc Document) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO documents (collection_id, title, source_type, source_url, checksum, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		doc.CollectionID, doc.Title, doc.SourceType, doc.SourceURL, doc.Checksum,
		orEmptyJSON(doc.Metadata)).Scan(&id)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("document with checksum %s: %w", doc.Checksum, ErrDuplicate)
	}
	if err != nil {
		return 0, fmt.Errorf("inserting document: %w", err)
	}
	return id, nil
}

// GetDocument returns one document by id.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	var d Document
	err := s.pool.QueryRow(ctx, `
		SELECT id, collection_id, title, source_type, source_url, checksum, metadata, created_at
		FROM documents WHERE id = $1`,
		id).Scan(&d.ID, &d.CollectionID, &d.Title, &d.SourceType, &d.SourceURL,
		&d.Checksum, &d.Metadata, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return &d, nil
}

// FindDocumentByChecksum returns the document carrying the given
// non-empty checksum, or ErrNotFound.
func (s *Store) FindDocumentByChecksum(ctx context.Context, checksum string) (*Document, error) {
	if checksum == "" {
		return nil, fmt.Errorf("empty checksum: %w", ErrNotFound)
	}
	var d Document
	err := s.pool.QueryRow(ctx, `
		SELECT id, collection_id, title, source_type, source_url, checksum, metadata, created_at
		FROM documents WHERE checksum = $1`,
		checksum).Scan(&d.ID, &d.CollectionID, &d.Title, &d.SourceType, &d.SourceURL,
		&d.Checksum, &d.Metadata, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("checksum %s: %w", checksum, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding document by checksum: %w", err)
	}
	return &d, nil
}

// UpdateDocumentParsed records what the parse stage learned about a
// document: final title, text checksum and parser metadata. A checksum
// collision with another document returns ErrDuplicate.
func (s *Store) UpdateDocumentParsed(ctx context.Context, id int64, title, checksum string, metadata json.RawMessage) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE documents SET title = $2, checksum = $3, metadata = $4 WHERE id = $1`,
		id, title, checksum, orEmptyJSON(metadata))
	if isUniqueViolation(err) {
		return fmt.Errorf("document with checksum %s: %w", checksum, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document; its chunks cascade.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Chunks
// ---------------------------------------------------------------------------

// InsertChunks writes a document's chunks and their embeddings in a
// single transaction, so retrieval never observes a chunk without its
// vector.
func (s *Store) InsertChunks(ctx context.Context, documentID int64, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO chunks (document_id, text, token_count, chunk_index, start_char, end_char, embedding, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			documentID, c.Text, c.TokenCount, c.ChunkIndex, c.StartChar, c.EndChar,
			pgvector.NewVector(c.Embedding), orEmptyJSON(c.Metadata))
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for range chunks {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("inserting chunk: %w", err)
			}
		}
		return br.Close()
	})
}

// DeleteChunksByDocument removes all chunks belonging to a document.
func (s *Store) DeleteChunksByDocument(ctx context.Context, documentID int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// ChunksByCollection returns id and text for every chunk in a
// collection, in chunk id order. Used to build lexical indexes.
func (s *Store) ChunksByCollection(ctx context.Context, collectionID int64) ([]ChunkText, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ch.id, ch.text
		FROM chunks ch
		JOIN documents d ON d.id = ch.document_id
		WHERE d.collection_id = $1
		ORDER BY ch.id`,
		collectionID)
	if err != nil {
		return nil, fmt.Errorf("listing collection chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkText
	for rows.Next() {
		var c ChunkText
		if err := rows.Scan(&c.ID, &c.Text); err != nil {
			return nil, fmt.Errorf("scanning chunk text: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChunksByIDs returns full chunk rows (without embeddings) for the given
// ids, in ascending id order. Callers restore their own ranking order.
func (s *Store) ChunksByIDs(ctx context.Context, ids []int64) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, text, token_count, chunk_index, start_char, end_char, metadata
		FROM chunks WHERE id = ANY($1)
		ORDER BY id`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("getting chunks by ids: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Text, &c.TokenCount, &c.ChunkIndex,
			&c.StartChar, &c.EndChar, &c.Metadata); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// NearestChunks returns the k chunks in a collection closest to vec by
// cosine distance, most similar first; distance ties break on chunk id.
func (s *Store) NearestChunks(ctx context.Context, collectionID int64, vec []float32, k int) ([]ScoredChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ch.id, ch.document_id, ch.text, ch.token_count, ch.chunk_index, ch.start_char, ch.end_char, ch.metadata,
		       1 - (ch.embedding <=> $2::vector) AS similarity
		FROM chunks ch
		JOIN documents d ON d.id = ch.document_id
		WHERE d.collection_id = $1 AND ch.embedding IS NOT NULL
		ORDER BY ch.embedding <=> $2::vector, ch.id
		LIMIT $3`,
		collectionID, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var c ScoredChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Text, &c.TokenCount, &c.ChunkIndex,
			&c.StartChar, &c.EndChar, &c.Metadata, &c.Similarity); err != nil {
			return nil, fmt.Errorf("scanning vector result: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Ingestion jobs
// ---------------------------------------------------------------------------

// CreateJob persists a new job in the pending state at progress 0.
func (s *Store) CreateJob(ctx context.Context, job IngestJob) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_jobs (id, collection_id, document_id, status, progress)
		VALUES ($1, $2, $3, 'pending', 0)`,
		job.ID, job.CollectionID, job.DocumentID); err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// GetJob returns the durable job record.
func (s *Store) GetJob(ctx context.Context, id string) (*IngestJob, error) {
	var j IngestJob
	err := s.pool.QueryRow(ctx, `
		SELECT id, collection_id, document_id, status, progress, error_message, created_at, completed_at
		FROM ingest_jobs WHERE id = $1`,
		id).Scan(&j.ID, &j.CollectionID, &j.DocumentID, &j.Status, &j.Progress,
		&j.ErrorMessage, &j.CreatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return &j, nil
}

// UpdateJobProgress advances a live job to the given status and
// progress. Jobs already in a terminal state are left untouched.
func (s *Store) UpdateJobProgress(ctx context.Context, id, status string, progress int) error {
	if _, err := s.pool.Exec(ctx, sqlJobProgress, id, status, progress); err != nil {
		return fmt.Errorf("updating job progress: %w", err)
	}
	return nil
}

// CompleteJob marks a live job completed at progress 100.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, sqlJobComplete, id); err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	return nil
}

// FailJob marks a live job failed with the given message.
func (s *Store) FailJob(ctx context.Context, id, message string) error {
	if _, err := s.pool.Exec(ctx, sqlJobFail, id, message); err != nil {
		return fmt.Errorf("failing job: %w", err)
	}
	return nil
}

// SweepInterrupted fails every pending or processing job left over from
// a previous run. It returns the number of jobs swept and is safe to
// call repeatedly.
func (s *Store) SweepInterrupted(ctx context.Context) (int64, error) {
	ct, err := s.pool.Exec(ctx, sqlJobSweep)
	if err != nil {
		return 0, fmt.Errorf("sweeping interrupted jobs: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ---------------------------------------------------------------------------
// Queries and feedback
// ---------------------------------------------------------------------------

// RecordQuery writes the query audit row and its grounding chunks in one
// transaction and returns the query id. chunks may be empty.
func (s *Store) RecordQuery(ctx context.Context, q QueryRecord, chunks []QueryChunk) (int64, error) {
	citations := q.Citations
	if len(citations) == 0 {
		citations = json.RawMessage(`[]`)
	}
	var id int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO queries (collection_id, question, answer, citations, latency_ms, llm_model, retrieval_score)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			q.CollectionID, q.Question, q.Answer, citations, q.LatencyMS,
			q.LLMModel, q.RetrievalScore).Scan(&id); err != nil {
			return fmt.Errorf("inserting query: %w", err)
		}
		for _, qc := range chunks {
			if _, err := tx.Exec(ctx, `
				INSERT INTO query_chunks (query_id, chunk_id, rank, score)
				VALUES ($1, $2, $3, $4)`,
				id, qc.ChunkID, qc.Rank, qc.Score); err != nil {
				return fmt.Errorf("inserting query chunk: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertFeedback records or replaces the feedback for a query. An
// unknown query id returns ErrNotFound.
func (s *Store) UpsertFeedback(ctx context.Context, queryID int64, value int, note string) (*Feedback, error) {
	var f Feedback
	err := s.pool.QueryRow(ctx, `
		INSERT INTO feedback (query_id, value, note)
		VALUES ($1, $2, $3)
		ON CONFLICT (query_id) DO UPDATE SET value = EXCLUDED.value, note = EXCLUDED.note
		RETURNING id, query_id, value, note, created_at`,
		queryID, value, note).Scan(&f.ID, &f.QueryID, &f.Value, &f.Note, &f.CreatedAt)
	if isForeignKeyViolation(err) {
		return nil, fmt.Errorf("query %d: %w", queryID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("upserting feedback: %w", err)
	}
	return &f, nil
}

// Metrics returns the store-wide counters for the metrics endpoint.
func (s *Store) Metrics(ctx context.Context) (*Metrics, error) {
	var m Metrics
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM collections),
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM chunks),
			(SELECT COUNT(*) FROM queries),
			(SELECT COALESCE(AVG(latency_ms), 0) FROM queries)`).
		Scan(&m.TotalCollections, &m.TotalDocuments, &m.TotalChunks, &m.TotalQueries, &m.AvgLatencyMS)
	if err != nil {
		return nil, fmt.Errorf("reading metrics: %w", err)
	}
	return &m, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// Postgres error codes for constraint violations.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// orEmptyJSON substitutes an empty JSON object for nil metadata so JSONB
// columns never receive SQL NULL.
func orEmptyJSON(m json.RawMessage) json.RawMessage {
	if len(m) == 0 {
		return json.RawMessage(`{}`)
	}
	return m
}
