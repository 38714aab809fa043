package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"docrag/internal/adapter/fs"
	"docrag/internal/domain"
	"docrag/internal/engine"
	"docrag/internal/logging"
	"docrag/internal/port"
)

// ErrNoChunkFiles is returned when the walk finds nothing to index.
var ErrNoChunkFiles = errors.New("no chunk files found")

const embedBatchSize = 64

// IndexUseCase reads chunk files, embeds their text and builds the engine.
type IndexUseCase struct {
	walker   *fs.Walker
	embedder port.Embedder
	engine   *engine.Engine
	progress port.ProgressSink
	logger   *zap.Logger
}

func NewIndexUseCase(walker *fs.Walker, embedder port.Embedder, eng *engine.Engine, progress port.ProgressSink, logger *zap.Logger) *IndexUseCase {
	eng.SetProgressSink(progress)
	return &IndexUseCase{
		walker:   walker,
		embedder: embedder,
		engine:   eng,
		progress: progress,
		logger:   logging.OrNop(logger),
	}
}

// IndexResult contains the results of an indexing operation.
type IndexResult struct {
	FilesRead  int `json:"files_read"`
	ChunksRead int `json:"chunks_read"`
	engine.IndexResult
}

// Index indexes every chunk file found under root.
func (u *IndexUseCase) Index(ctx context.Context, root string) (*IndexResult, error) {
	files, err := u.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoChunkFiles, root)
	}

	chunks, err := fs.ReadAll(files)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	u.logger.Info("chunks loaded", zap.Int("files", len(files)), zap.Int("chunks", len(chunks)))

	embeddings := u.embedTexts(ctx, chunks)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := u.engine.Index(ctx, chunks, embeddings)
	if err != nil {
		return nil, err
	}

	return &IndexResult{
		FilesRead:   len(files),
		ChunksRead:  len(chunks),
		IndexResult: res,
	}, nil
}

// embedTexts embeds chunk texts in batches so progress can be reported.
func (u *IndexUseCase) embedTexts(ctx context.Context, chunks []domain.ChunkInput) [][]float32 {
	out := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+embedBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		out = append(out, u.embedder.Embed(ctx, texts)...)

		if u.progress != nil {
			u.progress.Report(domain.ProgressEvent{
				Stage:   "embed",
				Current: end,
				Total:   len(chunks),
				Message: fmt.Sprintf("embedded %d/%d chunks", end, len(chunks)),
				Status:  domain.StatusProgress,
			})
		}
	}
	return out
}
