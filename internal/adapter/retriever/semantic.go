package retriever

import (
	"context"
	"errors"
	"fmt"

	"docrag/internal/domain"
	"docrag/internal/port"
)

// ErrQueryEmbedding is returned when the query text yields no vector.
var ErrQueryEmbedding = errors.New("query could not be embedded")

// Searcher is the vector search surface of the engine.
type Searcher interface {
	Search(query []float32, k int) ([]domain.SearchResult, error)
}

// QueryEmbedder embeds a single query text; nil means failure.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) []float32
}

// SemanticRetriever answers text queries with coarse-to-fine engine search.
type SemanticRetriever struct {
	engine   Searcher
	embedder QueryEmbedder
}

var _ port.Retriever = (*SemanticRetriever)(nil)

func NewSemanticRetriever(engine Searcher, embedder QueryEmbedder) *SemanticRetriever {
	return &SemanticRetriever{
		engine:   engine,
		embedder: embedder,
	}
}

func (r *SemanticRetriever) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if r.engine == nil || r.embedder == nil {
		return nil, fmt.Errorf("semantic search not available: engine or embedder not configured")
	}

	vec := r.embedder.EmbedOne(ctx, query)
	if len(vec) == 0 {
		return nil, ErrQueryEmbedding
	}

	results, err := r.engine.Search(vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return results, nil
}
