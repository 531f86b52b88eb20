package docusense

import "errors"

var (
	// ErrCollectionNotFound is returned when a collection ID does not exist.
	ErrCollectionNotFound = errors.New("docusense: collection not found")

	// ErrCollectionExists is returned when creating a collection whose name is taken.
	ErrCollectionExists = errors.New("docusense: collection name already exists")

	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("docusense: document not found")

	// ErrDuplicateDocument is returned when parsed text matches an existing checksum.
	ErrDuplicateDocument = errors.New("docusense: document already exists")

	// ErrJobNotFound is returned when a job ID does not exist.
	ErrJobNotFound = errors.New("docusense: job not found")

	// ErrQueryNotFound is returned when a query ID does not exist.
	ErrQueryNotFound = errors.New("docusense: query not found")

	// ErrParseFailed is returned when document parsing fails.
	ErrParseFailed = errors.New("docusense: parsing failed")

	// ErrEmbeddingFailed is returned when the embedding backend produces
	// unusable vectors for a query.
	ErrEmbeddingFailed = errors.New("docusense: embedding generation failed")

	// ErrStorageFailed is returned when a required catalog write fails.
	ErrStorageFailed = errors.New("docusense: storage operation failed")

	// ErrDimensionMismatch is returned when the live embedding model's dimension
	// differs from the dimension the store was created with.
	ErrDimensionMismatch = errors.New("docusense: embedding dimension mismatch")

	// ErrNoChunks is returned when a collection has no ingested chunks to search.
	ErrNoChunks = errors.New("docusense: collection has no documents")

	// ErrValidation is returned for malformed request parameters.
	ErrValidation = errors.New("docusense: invalid request")

	// ErrLLMUnavailable is returned when the LLM provider is unreachable.
	ErrLLMUnavailable = errors.New("docusense: LLM provider unavailable")
)
