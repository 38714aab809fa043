package usecase

import (
	"context"

	"docrag/internal/domain"
	"docrag/internal/port"
)

// RetrieveUseCase handles search and retrieval operations.
type RetrieveUseCase struct {
	retriever         port.Retriever
	minScoreThreshold float64
}

func NewRetrieveUseCase(retriever port.Retriever, minScoreThreshold float64) *RetrieveUseCase {
	return &RetrieveUseCase{
		retriever:         retriever,
		minScoreThreshold: minScoreThreshold,
	}
}

// Retrieve returns the top-k results scoring at least the threshold.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	results, err := u.retriever.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return u.filterByThreshold(results), nil
}

// RetrieveAll returns the top-k results without threshold filtering.
func (u *RetrieveUseCase) RetrieveAll(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	return u.retriever.Search(ctx, query, topK)
}

// Context retrieves and renders the prompt context block for a query.
func (u *RetrieveUseCase) Context(ctx context.Context, query string, topK int) (string, []domain.SearchResult, error) {
	results, err := u.retriever.Search(ctx, query, topK)
	if err != nil {
		return "", nil, err
	}

	items := make([]domain.ContextItem, len(results))
	for i, r := range results {
		items[i] = domain.ContextItemFromResult(r)
	}
	return FormatContext(items, u.minScoreThreshold), u.filterByThreshold(results), nil
}

func (u *RetrieveUseCase) filterByThreshold(results []domain.SearchResult) []domain.SearchResult {
	filtered := make([]domain.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score >= u.minScoreThreshold {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
