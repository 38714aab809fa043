package engine

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"docrag/internal/adapter/vectorindex"
	"docrag/internal/domain"
)

// Search returns up to k chunks ranked by cosine similarity between the
// query and each chunk's detail vector. Candidates come from the summary
// index, overfetched by the configured factor.
func (e *Engine) Search(query []float32, k int) ([]domain.SearchResult, error) {
	if len(query) != e.opts.Dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), e.opts.Dimension)
	}
	if !e.built {
		return nil, ErrNotReady
	}
	if k <= 0 {
		return []domain.SearchResult{}, nil
	}
	start := time.Now()
	defer func() { e.metrics.ObserveSearch(time.Since(start)) }()

	size := e.chunks.Len()
	if k > size {
		k = size
	}
	fetch := size
	if k <= size/e.opts.Overfetch {
		fetch = k * e.opts.Overfetch
	}

	q := e.normalizeQuery(query)
	neighbors := e.summary.Query(q, fetch)

	results := make([]domain.SearchResult, 0, len(neighbors))
	for _, n := range neighbors {
		dv, ok := e.detail.Vector(n.Position)
		if !ok {
			continue
		}
		record, ok := e.chunks.Get(n.Position)
		if !ok {
			continue
		}
		results = append(results, domain.SearchResult{
			Score:    vectorindex.Dot(q, dv),
			Position: n.Position,
			ID:       e.chunks.ID(n.Position),
			Record:   record,
		})
	}

	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Coarse returns the raw summary-index candidates scored by the
// distance-derived cosine, without detail rescoring.
func (e *Engine) Coarse(query []float32, k int) ([]domain.SearchResult, error) {
	if len(query) != e.opts.Dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), e.opts.Dimension)
	}
	if !e.built {
		return nil, ErrNotReady
	}
	if k <= 0 {
		return []domain.SearchResult{}, nil
	}

	if n := e.chunks.Len(); k > n {
		k = n
	}

	q := e.normalizeQuery(query)
	neighbors := e.summary.Query(q, k)
	results := make([]domain.SearchResult, 0, len(neighbors))
	for _, n := range neighbors {
		record, ok := e.chunks.Get(n.Position)
		if !ok {
			continue
		}
		results = append(results, domain.SearchResult{
			Score:    vectorindex.DistanceToCosine(n.Distance),
			Position: n.Position,
			ID:       e.chunks.ID(n.Position),
			Record:   record,
		})
	}
	return results, nil
}

func (e *Engine) normalizeQuery(query []float32) []float32 {
	q, ok := vectorindex.Normalize(query)
	if !ok {
		e.logger.Warn("query vector has zero norm; all scores will be zero", zap.Int("dimension", len(query)))
	}
	return q
}

func sortResults(results []domain.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Position < results[j].Position
	})
}
