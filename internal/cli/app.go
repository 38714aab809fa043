package cli

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"docrag/config"
	"docrag/internal/adapter/cache"
	"docrag/internal/adapter/embedding"
	"docrag/internal/adapter/llm"
	"docrag/internal/adapter/retriever"
	"docrag/internal/adapter/store"
	"docrag/internal/engine"
	"docrag/internal/metrics"
	"docrag/internal/port"
)

// openEngine loads the persisted unit for the configured collection and
// turns the store errors into messages that say what to run next.
func openEngine(cfg *config.Config, dir string, logger *zap.Logger, m *metrics.Metrics) (*engine.Engine, error) {
	eng, err := engine.Load(engine.OptionsFromConfig(cfg, dir), logger, m)
	switch {
	case errors.Is(err, store.ErrNoIndex):
		return nil, fmt.Errorf("no index found under %s. Run 'rag index' first: %w", cfg.IndexRoot(dir), err)
	case errors.Is(err, store.ErrRebuildRequired):
		return nil, fmt.Errorf("index was built with different settings. Run 'rag index' again: %w", err)
	case err != nil:
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	return eng, nil
}

// retrievalStack holds the pieces a query path is assembled from.
type retrievalStack struct {
	embedder *embedding.Client
	judge    port.Generator
	cache    *cache.QueryCache
}

func newRetrievalStack(cfg *config.Config, withJudge bool, logger *zap.Logger, m *metrics.Metrics) (*retrievalStack, error) {
	embedder, err := embedding.NewFromConfig(cfg.Embedding, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	s := &retrievalStack{embedder: embedder}
	if cfg.Retrieve.CacheSize > 0 {
		s.cache = cache.NewQueryCache(cfg.Retrieve.CacheSize, cfg.Retrieve.CacheTTL)
	}
	if withJudge {
		s.judge, err = llm.NewFromConfig(cfg.Judge)
		if err != nil {
			return nil, fmt.Errorf("failed to create judge model: %w", err)
		}
	}
	return s, nil
}

// retrieverFor builds semantic search over eng, cached per index
// generation when a cache is configured, with LLM reranking on top when
// rerank is set.
func (s *retrievalStack) retrieverFor(cfg *config.Config, eng *engine.Engine, rerank bool, logger *zap.Logger, m *metrics.Metrics) port.Retriever {
	var r port.Retriever = retriever.NewSemanticRetriever(eng, s.embedder)
	if s.cache != nil {
		r = cache.NewCachedRetriever(r, s.cache, eng.Info().Generation)
	}
	if rerank && s.judge != nil {
		rr := retriever.NewLLMReranker(s.judge, cfg.Rerank.TopN, cfg.Rerank.Threshold, logger)
		r = retriever.NewRerankedRetriever(r, rr, logger, m)
	}
	return r
}
