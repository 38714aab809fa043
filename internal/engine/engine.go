// Package engine implements the coarse-to-fine retrieval engine: a detail
// index over chunk text embeddings, a summary index over summary
// embeddings and the chunk store, all aligned by position.
//
// An Engine is created either empty for a single indexing run (New) or
// from a persisted unit (Load). Once built or loaded it is read-only and
// safe for concurrent Search calls.
package engine

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"docrag/config"
	"docrag/internal/adapter/store"
	"docrag/internal/adapter/vectorindex"
	"docrag/internal/domain"
	"docrag/internal/logging"
	"docrag/internal/metrics"
	"docrag/internal/port"
)

var (
	ErrLengthMismatch    = errors.New("chunks and embeddings differ in length")
	ErrEmptyBatch        = errors.New("no embeddings provided")
	ErrNoValidEmbeddings = errors.New("no valid embeddings in batch")
	ErrReadOnly          = errors.New("engine is read-only")
	ErrDimensionMismatch = errors.New("query dimension mismatch")
	ErrNotReady          = errors.New("index not ready")
	// ErrBroken is returned by Index after an earlier run failed part way
	// through adding vectors; the engine must be discarded.
	ErrBroken            = errors.New("engine left inconsistent by a failed index run")
)

type mode int

const (
	modeBuild mode = iota
	modeLoad
)

// Options configures an Engine.
type Options struct {
	// Root is the unit directory (<index.dir>/<collection>). Empty keeps
	// the index in memory only.
	Root          string
	Backend       string
	Dimension     int
	HNSWM         int
	HNSWEfSearch  int
	Overfetch     int
	ProgressEvery int
	// ConfigHash is stored in the manifest and compared on Load.
	ConfigHash     string
	EmbeddingModel string
}

// OptionsFromConfig derives engine options for the project rooted at dir.
func OptionsFromConfig(cfg *config.Config, dir string) Options {
	return Options{
		Root:           cfg.IndexRoot(dir),
		Backend:        cfg.Index.Backend,
		Dimension:      cfg.Embedding.Dimension,
		HNSWM:          cfg.Index.HNSWM,
		HNSWEfSearch:   cfg.Index.HNSWEfSearch,
		Overfetch:      cfg.Retrieve.Overfetch,
		ProgressEvery:  cfg.Index.ProgressEvery,
		ConfigHash:     store.ComputeConfigHash(cfg),
		EmbeddingModel: cfg.Embedding.Model,
	}
}

func (o *Options) setDefaults() {
	if o.Backend == "" {
		o.Backend = vectorindex.BackendHNSW
	}
	if o.Overfetch < 1 {
		o.Overfetch = 3
	}
	if o.ProgressEvery < 1 {
		o.ProgressEvery = 50
	}
}

type Engine struct {
	opts     Options
	mode     mode
	built    bool
	broken   bool
	embedder port.Embedder
	progress port.ProgressSink
	logger   *zap.Logger
	metrics  *metrics.Metrics

	detail   port.VectorIndex
	summary  port.VectorIndex
	chunks   *store.ChunkStore
	manifest store.Manifest
	gen      string
}

// New creates an engine in build mode. The embedder is used for summary
// embeddings during Index; a nil embedder makes every summary fall back to
// its detail vector.
func New(opts Options, embedder port.Embedder, logger *zap.Logger, m *metrics.Metrics) (*Engine, error) {
	opts.setDefaults()
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", opts.Dimension)
	}

	detail, err := newIndex(opts, opts.Backend, opts.Dimension)
	if err != nil {
		return nil, err
	}
	summary, err := newIndex(opts, opts.Backend, opts.Dimension)
	if err != nil {
		return nil, err
	}

	return &Engine{
		opts:     opts,
		mode:     modeBuild,
		embedder: embedder,
		logger:   logging.OrNop(logger),
		metrics:  m,
		detail:   detail,
		summary:  summary,
		chunks:   store.NewChunkStore(),
	}, nil
}

// Load opens the persisted unit under opts.Root in read-only mode.
func Load(opts Options, logger *zap.Logger, m *metrics.Metrics) (*Engine, error) {
	opts.setDefaults()
	logger = logging.OrNop(logger)

	unit, err := store.LoadUnit(opts.Root, func(man store.Manifest) (port.VectorIndex, error) {
		return newIndex(opts, man.Backend, man.Dimension)
	})
	if err != nil {
		return nil, err
	}
	if err := store.NeedsRebuild(unit.Manifest, opts.ConfigHash); err != nil {
		return nil, err
	}

	gen, _ := store.CurrentGeneration(opts.Root)
	opts.Dimension = unit.Manifest.Dimension
	opts.Backend = unit.Manifest.Backend
	m.SetIndexSize(unit.Chunks.Len())

	logger.Info("index loaded",
		zap.String("root", opts.Root),
		zap.String("generation", gen),
		zap.Int("chunks", unit.Chunks.Len()),
		zap.Int("dimension", opts.Dimension),
		zap.String("backend", opts.Backend),
	)

	return &Engine{
		opts:     opts,
		mode:     modeLoad,
		built:    true,
		logger:   logger,
		metrics:  m,
		detail:   unit.Detail,
		summary:  unit.Summary,
		chunks:   unit.Chunks,
		manifest: unit.Manifest,
		gen:      gen,
	}, nil
}

func newIndex(opts Options, backend string, dim int) (port.VectorIndex, error) {
	return vectorindex.New(vectorindex.Options{
		Backend:   backend,
		Dimension: dim,
		M:         opts.HNSWM,
		EfSearch:  opts.HNSWEfSearch,
	})
}

// SetProgressSink installs the observer for indexing progress.
func (e *Engine) SetProgressSink(sink port.ProgressSink) {
	e.progress = sink
}

// Ready reports whether the engine can serve searches.
func (e *Engine) Ready() bool {
	return e.built
}

func (e *Engine) Len() int {
	return e.chunks.Len()
}

func (e *Engine) Dimension() int {
	return e.opts.Dimension
}

// Info summarizes the engine's index for diagnostics.
type Info struct {
	Count          int       `json:"count"`
	Dimension      int       `json:"dimension"`
	Backend        string    `json:"backend"`
	Generation     string    `json:"generation,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (e *Engine) Info() Info {
	return Info{
		Count:          e.chunks.Len(),
		Dimension:      e.opts.Dimension,
		Backend:        e.opts.Backend,
		Generation:     e.gen,
		EmbeddingModel: e.manifest.EmbeddingModel,
		CreatedAt:      e.manifest.CreatedAt,
	}
}

// Records returns the chunk metadata and external ids in position order.
func (e *Engine) Records() ([]domain.ChunkRecord, []string) {
	return e.chunks.Records(), e.chunks.IDs()
}

// ExportJSON writes the chunk metadata as JSON.
func (e *Engine) ExportJSON(w io.Writer) error {
	return store.ExportJSON(w, e.chunks)
}
