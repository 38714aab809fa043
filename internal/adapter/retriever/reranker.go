package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"docrag/internal/domain"
	"docrag/internal/logging"
	"docrag/internal/metrics"
	"docrag/internal/port"
)

const (
	defaultTopN       = 5
	maxSnippetRunes   = 400
	judgmentPromptFmt = `You are judging which passages help answer a question.

Question: %s

Passages:
%s
Rate how relevant each passage is to the question with a score between 0 and 1.
Reply with a JSON array of [passage number, score] pairs, most relevant first,
for example [[2, 0.92], [1, 0.40]]. Reply with the array only.`
)

// LLMReranker asks a language model to judge the top coarse results by
// their summaries and reorders them by the returned relevance scores.
type LLMReranker struct {
	generator port.Generator
	topN      int
	threshold float64
	logger    *zap.Logger
}

var _ port.Reranker = (*LLMReranker)(nil)

func NewLLMReranker(generator port.Generator, topN int, threshold float64, logger *zap.Logger) *LLMReranker {
	if topN < 2 {
		topN = defaultTopN
	}
	return &LLMReranker{
		generator: generator,
		topN:      topN,
		threshold: threshold,
		logger:    logging.OrNop(logger),
	}
}

// Rerank judges the first N results and returns the judged prefix, sorted
// by relevance, followed by the untouched remainder. Results the model
// scored at or below the threshold, or did not mention, are dropped from
// the prefix.
func (r *LLMReranker) Rerank(ctx context.Context, query string, coarse []domain.SearchResult) ([]domain.SearchResult, error) {
	if len(coarse) < 2 {
		return coarse, nil
	}

	n := min(r.topN, len(coarse))
	response, err := r.generator.Generate(ctx, buildJudgmentPrompt(query, coarse[:n]))
	if err != nil {
		return nil, fmt.Errorf("judgment call failed: %w", err)
	}

	judgments, err := ParseJudgment(response, r.threshold)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(judgments))
	reranked := make([]domain.SearchResult, 0, len(coarse))
	for _, j := range judgments {
		if j.Index < 1 || j.Index > n || seen[j.Index] {
			continue
		}
		seen[j.Index] = true
		res := coarse[j.Index-1]
		res.Score = j.Score
		reranked = append(reranked, res)
	}
	sort.SliceStable(reranked, func(a, b int) bool {
		return reranked[a].Score > reranked[b].Score
	})

	r.logger.Debug("rerank judged",
		zap.Int("candidates", n),
		zap.Int("pairs", len(judgments)),
		zap.Int("kept", len(reranked)),
	)

	return append(reranked, coarse[n:]...), nil
}

func (r *LLMReranker) ModelName() string {
	return r.generator.ModelName()
}

func buildJudgmentPrompt(query string, candidates []domain.SearchResult) string {
	var sb strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, snippet(c.Record))
	}
	return fmt.Sprintf(judgmentPromptFmt, query, sb.String())
}

// snippet is the summary, or the start of the text when there is none.
func snippet(rec domain.ChunkRecord) string {
	s := strings.TrimSpace(rec.Summary)
	if s == "" {
		s = strings.TrimSpace(rec.Text)
	}
	s = strings.Join(strings.Fields(s), " ")
	if runes := []rune(s); len(runes) > maxSnippetRunes {
		s = string(runes[:maxSnippetRunes]) + "..."
	}
	return s
}

// RerankedRetriever wraps a retriever and applies best-effort reranking.
// Any rerank failure returns the wrapped retriever's ranking unchanged.
type RerankedRetriever struct {
	retriever port.Retriever
	reranker  port.Reranker
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

var _ port.Retriever = (*RerankedRetriever)(nil)

func NewRerankedRetriever(retriever port.Retriever, reranker port.Reranker, logger *zap.Logger, m *metrics.Metrics) *RerankedRetriever {
	return &RerankedRetriever{
		retriever: retriever,
		reranker:  reranker,
		logger:    logging.OrNop(logger),
		metrics:   m,
	}
}

func (r *RerankedRetriever) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	candidates, err := r.retriever.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	if r.reranker == nil || len(candidates) < 2 {
		r.metrics.RerankOutcome("skipped")
		return candidates, nil
	}

	reranked, err := r.reranker.Rerank(ctx, query, candidates)
	if err != nil {
		r.metrics.RerankOutcome("fallback")
		r.logger.Warn("rerank failed, using coarse ranking",
			zap.String("model", r.reranker.ModelName()),
			zap.Error(err),
		)
		return candidates, nil
	}

	r.metrics.RerankOutcome("ok")
	return reranked, nil
}
