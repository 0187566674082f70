package storage

import "github.com/bull/ffi-copilot/internal/document"

// Chunk is one retrievable unit of a source document together with its
// embedding. ID is the content identifier from document.ContentID.
type Chunk struct {
	ID         string           // 64-char hex content identifier
	Source     string           // File name the chunk was extracted from
	DocType    document.DocType // Category derived from the file name
	Page       int              // 1-based page for paginated sources, 0 otherwise
	ChunkIndex int              // Position within the page (or document)
	Text       string           // Chunk text as embedded
	Embedding  []float32        // Not populated in query results
}

// Match is a chunk returned by a similarity query.
type Match struct {
	*Chunk
	Score float64
}

// Filter restricts a query to entries whose metadata equals the given values.
// A zero DocType means no restriction.
type Filter struct {
	DocType document.DocType
}

func (f *Filter) empty() bool {
	return f == nil || f.DocType == ""
}

// DefaultCollectionName is the collection documents are indexed into.
const DefaultCollectionName = "ffi_founder_docs"

// DefaultVectorDimension is the embedding size of nomic-embed-text.
const DefaultVectorDimension = 768

// Metadata keys shared by all backends.
const (
	metaSource    = "source"
	metaDocType   = "doc_type"
	metaPage      = "page"
	metaChunk     = "chunk"
	metaContentID = "content_id"
	metaText      = "text"
)
