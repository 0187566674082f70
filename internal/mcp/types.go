// Package mcp exposes document search and index status as MCP tools.
package mcp

// SearchDocsInput defines the input parameters for the search_docs tool.
type SearchDocsInput struct {
	// Query is the question or topic to search for.
	Query string `json:"query" jsonschema:"the question or topic to search the knowledge base for"`
	// MaxResults caps the number of passages returned.
	MaxResults int `json:"max_results,omitempty" jsonschema:"maximum number of passages to return (default: all retrieved)"`
}

// SearchDocsOutput contains the search results.
type SearchDocsOutput struct {
	// Context is the passages formatted exactly as the chat prompt sees them.
	Context string `json:"context"`
	// Results is the list of matching passages.
	Results []SearchResult `json:"results"`
	// Message provides informational context (e.g., "No matching passages found").
	Message string `json:"message,omitempty"`
}

// SearchResult represents a single passage match.
type SearchResult struct {
	Source  string  `json:"source"`
	DocType string  `json:"doc_type"`
	Page    int     `json:"page,omitempty"`
	Chunk   int     `json:"chunk"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
}

// StatusInput takes no parameters.
type StatusInput struct{}

// StatusOutput describes the state of the vector index.
type StatusOutput struct {
	// TotalChunks is the number of stored chunks.
	TotalChunks int `json:"total_chunks"`
	// DocTypes lists the categories that have at least one chunk.
	DocTypes []string `json:"doc_types"`
	// Empty is true when nothing has been indexed yet.
	Empty bool `json:"empty"`
}
