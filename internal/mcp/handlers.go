package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/ffi-copilot/internal/document"
	"github.com/bull/ffi-copilot/internal/retriever"
	"github.com/bull/ffi-copilot/internal/storage"
)

// Searcher returns the matches the chat prompt would be built from.
type Searcher interface {
	Search(ctx context.Context, query string) ([]*storage.Match, error)
}

// IndexInspector reports what the vector store holds.
type IndexInspector interface {
	Count(ctx context.Context) (int, error)
	HasDocType(ctx context.Context, docType document.DocType) (bool, error)
}

// makeSearchHandler creates the search_docs tool handler.
// Search flow:
// 1. Run the same retrieval the chat endpoint uses (prefix, keyword filter)
// 2. Trim to MaxResults when given
// 3. Return both structured matches and the formatted context block
func makeSearchHandler(search Searcher) func(
	context.Context, *mcp.CallToolRequest, SearchDocsInput,
) (*mcp.CallToolResult, SearchDocsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchDocsInput) (
		*mcp.CallToolResult, SearchDocsOutput, error,
	) {
		if input.Query == "" {
			return nil, SearchDocsOutput{}, fmt.Errorf("query is required")
		}

		matches, err := search.Search(ctx, input.Query)
		if err != nil {
			return nil, SearchDocsOutput{}, fmt.Errorf("search failed: %w", err)
		}
		if input.MaxResults > 0 && len(matches) > input.MaxResults {
			matches = matches[:input.MaxResults]
		}

		if len(matches) == 0 {
			return nil, SearchDocsOutput{
				Results: []SearchResult{},
				Message: "No matching passages found. The index may be empty.",
			}, nil
		}

		results := make([]SearchResult, 0, len(matches))
		for _, m := range matches {
			results = append(results, SearchResult{
				Source:  m.Source,
				DocType: string(m.DocType),
				Page:    m.Page,
				Chunk:   m.ChunkIndex,
				Score:   m.Score,
				Text:    m.Text,
			})
		}

		return nil, SearchDocsOutput{
			Context: retriever.Format(matches),
			Results: results,
		}, nil
	}
}

// makeStatusHandler creates the get_index_status tool handler.
func makeStatusHandler(index IndexInspector) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		total, err := index.Count(ctx)
		if err != nil {
			return nil, StatusOutput{}, fmt.Errorf("vector_store_error: failed to count chunks: %w", err)
		}

		docTypes := []string{}
		if total > 0 {
			for _, dt := range document.AllDocTypes {
				present, err := index.HasDocType(ctx, dt)
				if err != nil {
					return nil, StatusOutput{}, fmt.Errorf("vector_store_error: failed to probe %s: %w", dt, err)
				}
				if present {
					docTypes = append(docTypes, string(dt))
				}
			}
		}

		return nil, StatusOutput{
			TotalChunks: total,
			DocTypes:    docTypes,
			Empty:       total == 0,
		}, nil
	}
}
