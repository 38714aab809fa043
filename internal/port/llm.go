package port

import (
	"context"

	"docrag/internal/domain"
)

// Generator is a language model used for relevance judgment and answers.
type Generator interface {
	// Generate returns the model's free-form completion for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}

// Reranker reorders coarse search results by query relevance.
type Reranker interface {
	// Rerank returns the reordered results. On error callers must fall back
	// to the coarse ranking.
	Rerank(ctx context.Context, query string, results []domain.SearchResult) ([]domain.SearchResult, error)

	// ModelName returns the name of the reranking model.
	ModelName() string
}
