package port

import (
	"context"

	"docrag/internal/domain"
)

// Retriever defines the interface for searching indexed content.
type Retriever interface {
	// Search returns the top-k chunks for a natural-language query.
	Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}
