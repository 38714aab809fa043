package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"docrag/internal/adapter/store"
	"docrag/internal/adapter/vectorindex"
	"docrag/internal/domain"
)

// Skip reasons reported in IndexResult and metrics.
const (
	SkipEmptyEmbedding = "empty_embedding"
	SkipWrongDimension = "wrong_dimension"
	SkipZeroNorm       = "zero_norm"
)

type IndexResult struct {
	Accepted         int            `json:"accepted"`
	Skipped          map[string]int `json:"skipped"`
	SummaryFallbacks int            `json:"summary_fallbacks"`
	Generation       string         `json:"generation,omitempty"`
	Path             string         `json:"path,omitempty"`
	Duration         time.Duration  `json:"duration"`
}

// SkippedTotal returns the number of skipped input chunks.
func (r IndexResult) SkippedTotal() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

type accepted struct {
	input  int
	vector []float32
}

// Index builds both indexes from pre-computed chunk embeddings and
// persists the unit when a root is configured. It may be called once.
func (e *Engine) Index(ctx context.Context, chunks []domain.ChunkInput, embeddings [][]float32) (IndexResult, error) {
	start := time.Now()
	result := IndexResult{Skipped: map[string]int{}}

	if e.mode != modeBuild || e.built {
		return result, ErrReadOnly
	}
	if e.broken {
		return result, ErrBroken
	}
	if len(chunks) != len(embeddings) {
		return result, fmt.Errorf("%w: %d chunks, %d embeddings", ErrLengthMismatch, len(chunks), len(embeddings))
	}
	if len(embeddings) == 0 {
		return result, ErrEmptyBatch
	}

	total := len(chunks)
	ids := externalIDs(chunks)
	dim := e.opts.Dimension

	var keep []accepted
	for i, emb := range embeddings {
		reason := ""
		var v []float32
		switch {
		case len(emb) == 0:
			reason = SkipEmptyEmbedding
		case len(emb) != dim:
			reason = SkipWrongDimension
		default:
			var ok bool
			if v, ok = vectorindex.Normalize(emb); !ok {
				reason = SkipZeroNorm
			}
		}

		if reason != "" {
			result.Skipped[reason]++
			e.metrics.ChunkSkipped(reason)
			e.logger.Debug("chunk skipped",
				zap.Int("chunk", i),
				zap.String("source", chunks[i].Source),
				zap.String("reason", reason),
			)
		} else {
			keep = append(keep, accepted{input: i, vector: v})
		}

		if (i+1)%e.opts.ProgressEvery == 0 && i+1 < total {
			e.report(domain.ProgressEvent{
				Stage:   "detail",
				Current: i + 1,
				Total:   total,
				Message: fmt.Sprintf("validated %d/%d embeddings", i+1, total),
				Status:  domain.StatusProgress,
			})
		}
	}

	if len(keep) == 0 {
		e.report(domain.ProgressEvent{Stage: "detail", Current: total, Total: total, Message: ErrNoValidEmbeddings.Error(), Status: domain.StatusError})
		return result, ErrNoValidEmbeddings
	}

	summaries := e.embedSummaries(ctx, chunks, keep)

	for j, a := range keep {
		c := chunks[a.input]
		pos := e.chunks.Len()

		if err := e.detail.Add(pos, a.vector); err != nil {
			e.broken = true
			return result, fmt.Errorf("detail index add %d: %w", pos, err)
		}

		sv, ok := summaryVector(summaries[j], dim)
		if !ok {
			sv = a.vector
			result.SummaryFallbacks++
			e.metrics.SummaryFallback()
		}
		if err := e.summary.Add(pos, sv); err != nil {
			e.broken = true
			return result, fmt.Errorf("summary index add %d: %w", pos, err)
		}
		e.chunks.Append(domain.ChunkRecord{Text: c.Text, Source: c.Source, Summary: c.Summary}, ids[a.input])
		e.metrics.ChunkIndexed()

		if (j+1)%e.opts.ProgressEvery == 0 && j+1 < len(keep) {
			e.report(domain.ProgressEvent{
				Stage:   "index",
				Current: j + 1,
				Total:   len(keep),
				Message: fmt.Sprintf("indexed %d/%d chunks", j+1, len(keep)),
				Status:  domain.StatusProgress,
			})
		}
	}
	result.Accepted = len(keep)

	if err := e.detail.Build(); err != nil {
		e.broken = true
		return result, fmt.Errorf("build detail index: %w", err)
	}
	if err := e.summary.Build(); err != nil {
		e.broken = true
		return result, fmt.Errorf("build summary index: %w", err)
	}
	e.built = true
	e.manifest = store.Manifest{
		SchemaVersion:  store.CurrentSchemaVersion,
		Count:          e.chunks.Len(),
		Dimension:      dim,
		Backend:        e.detail.Backend(),
		EmbeddingModel: e.opts.EmbeddingModel,
		ConfigHash:     e.opts.ConfigHash,
		CreatedAt:      time.Now().UTC(),
	}
	e.metrics.SetIndexSize(e.chunks.Len())

	if e.opts.Root != "" {
		gen, err := store.SaveUnit(e.opts.Root, &store.Unit{
			Detail:   e.detail,
			Summary:  e.summary,
			Chunks:   e.chunks,
			Manifest: e.manifest,
		})
		if err != nil {
			e.report(domain.ProgressEvent{Stage: "persist", Message: err.Error(), Status: domain.StatusError})
			return result, fmt.Errorf("persist index: %w", err)
		}
		e.gen = gen
		result.Generation = gen
		result.Path = filepath.Join(e.opts.Root, gen)
	}
	result.Duration = time.Since(start)

	e.report(domain.ProgressEvent{
		Stage:   "index",
		Current: result.Accepted,
		Total:   total,
		Message: fmt.Sprintf("indexed %d chunks, skipped %d", result.Accepted, result.SkippedTotal()),
		Status:  domain.StatusCompleted,
	})
	e.logger.Info("index built",
		zap.Int("accepted", result.Accepted),
		zap.Int("skipped", result.SkippedTotal()),
		zap.Int("summary_fallbacks", result.SummaryFallbacks),
		zap.String("generation", result.Generation),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

func (e *Engine) embedSummaries(ctx context.Context, chunks []domain.ChunkInput, keep []accepted) [][]float32 {
	if e.embedder == nil {
		return make([][]float32, len(keep))
	}
	texts := make([]string, len(keep))
	for j, a := range keep {
		texts[j] = chunks[a.input].Summary
	}
	e.report(domain.ProgressEvent{
		Stage:   "summary",
		Current: 0,
		Total:   len(texts),
		Message: fmt.Sprintf("embedding %d summaries", len(texts)),
		Status:  domain.StatusProgress,
	})
	return e.embedder.Embed(ctx, texts)
}

func summaryVector(v []float32, dim int) ([]float32, bool) {
	if len(v) != dim {
		return nil, false
	}
	return vectorindex.Normalize(v)
}

func (e *Engine) report(event domain.ProgressEvent) {
	if e.progress != nil {
		e.progress.Report(event)
	}
}

// externalIDs names each chunk "<source-stem>_<n>" where n counts the
// chunks of that source in input order, skipped ones included.
func externalIDs(chunks []domain.ChunkInput) []string {
	seen := make(map[string]int)
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		base := filepath.Base(c.Source)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		if c.Source == "" {
			stem = "chunk"
		}
		ids[i] = stem + "_" + strconv.Itoa(seen[c.Source])
		seen[c.Source]++
	}
	return ids
}
