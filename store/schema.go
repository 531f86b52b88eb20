package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// chunks.embedding vector column dimension and is recorded in
// schema_meta on first boot.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

-- Schema bookkeeping (embedding dimension, recorded once)
CREATE TABLE IF NOT EXISTS schema_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Named collections of documents
CREATE TABLE IF NOT EXISTS collections (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Ingested documents with checksum-based dedup
CREATE TABLE IF NOT EXISTS documents (
    id BIGSERIAL PRIMARY KEY,
    collection_id BIGINT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
    title TEXT NOT NULL DEFAULT '',
    source_type TEXT NOT NULL,
    source_url TEXT NOT NULL DEFAULT '',
    checksum TEXT NOT NULL DEFAULT '',
    metadata JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Chunks with inline pgvector embeddings
CREATE TABLE IF NOT EXISTS chunks (
    id BIGSERIAL PRIMARY KEY,
    document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    text TEXT NOT NULL,
    token_count INTEGER NOT NULL DEFAULT 0,
    chunk_index INTEGER NOT NULL,
    start_char INTEGER NOT NULL DEFAULT 0,
    end_char INTEGER NOT NULL DEFAULT 0,
    embedding vector(%d),
    metadata JSONB NOT NULL DEFAULT '{}'
);

-- Async ingestion jobs (UUID v4 primary key)
CREATE TABLE IF NOT EXISTS ingest_jobs (
    id CHAR(36) PRIMARY KEY,
    collection_id BIGINT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
    document_id BIGINT REFERENCES documents(id) ON DELETE SET NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    progress INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at TIMESTAMPTZ
);

-- Query audit log
CREATE TABLE IF NOT EXISTS queries (
    id BIGSERIAL PRIMARY KEY,
    collection_id BIGINT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
    question TEXT NOT NULL,
    answer TEXT NOT NULL DEFAULT '',
    citations JSONB NOT NULL DEFAULT '[]',
    latency_ms BIGINT NOT NULL DEFAULT 0,
    llm_model TEXT NOT NULL DEFAULT '',
    retrieval_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Chunks that grounded each answer
CREATE TABLE IF NOT EXISTS query_chunks (
    query_id BIGINT NOT NULL REFERENCES queries(id) ON DELETE CASCADE,
    chunk_id BIGINT NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
    rank INTEGER NOT NULL,
    score DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (query_id, chunk_id)
);

-- At most one feedback row per query (upsert on query_id)
CREATE TABLE IF NOT EXISTS feedback (
    id BIGSERIAL PRIMARY KEY,
    query_id BIGINT NOT NULL UNIQUE REFERENCES queries(id) ON DELETE CASCADE,
    value SMALLINT NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_checksum ON documents(checksum) WHERE checksum != '';
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING hnsw (embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS idx_ingest_jobs_status ON ingest_jobs(status);
CREATE INDEX IF NOT EXISTS idx_queries_collection ON queries(collection_id);
`, embeddingDim)
}
