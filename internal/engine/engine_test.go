package engine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/adapter/store"
	"docrag/internal/adapter/vectorindex"
	"docrag/internal/domain"
	"docrag/internal/port"
)

// tableEmbedder returns fixed vectors for known summaries and nil otherwise.
type tableEmbedder struct {
	dim     int
	vectors map[string][]float32
}

func (t *tableEmbedder) Embed(_ context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = t.vectors[text]
	}
	return out
}

func (t *tableEmbedder) Dimension() int    { return t.dim }
func (t *tableEmbedder) ModelName() string { return "table" }

type recordingSink struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (r *recordingSink) Report(e domain.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func threeChunks() []domain.ChunkInput {
	return []domain.ChunkInput{
		{Text: "A", Summary: "sA", Source: "docs/guide.md"},
		{Text: "B", Summary: "sB", Source: "docs/guide.md"},
		{Text: "C", Summary: "sC", Source: "notes.txt"},
	}
}

func threeVectors() [][]float32 {
	return [][]float32{{1, 0}, {0, 1}, {0.7, 0.7}}
}

func newFlatEngine(t *testing.T, root string, embedder port.Embedder) *Engine {
	t.Helper()
	e, err := New(Options{Root: root, Backend: vectorindex.BackendFlat, Dimension: 2}, embedder, nil, nil)
	require.NoError(t, err)
	return e
}

func TestSearchScenario(t *testing.T) {
	for _, backend := range []string{vectorindex.BackendFlat, vectorindex.BackendHNSW} {
		t.Run(backend, func(t *testing.T) {
			e, err := New(Options{Backend: backend, Dimension: 2, HNSWM: 8, HNSWEfSearch: 16}, nil, nil, nil)
			require.NoError(t, err)

			res, err := e.Index(context.Background(), threeChunks(), threeVectors())
			require.NoError(t, err)
			assert.Equal(t, 3, res.Accepted)
			assert.Equal(t, 3, res.SummaryFallbacks, "nil embedder falls back for every summary")

			got, err := e.Search([]float32{1, 0}, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)

			assert.Equal(t, 0, got[0].Position)
			assert.Equal(t, "A", got[0].Record.Text)
			assert.InDelta(t, 1.0, got[0].Score, 1e-6)

			assert.Equal(t, 2, got[1].Position)
			assert.Equal(t, "C", got[1].Record.Text)
			assert.InDelta(t, math.Sqrt(0.5), got[1].Score, 1e-3)
		})
	}
}

func TestIndexAssignsExternalIDs(t *testing.T) {
	e := newFlatEngine(t, "", nil)
	chunks := threeChunks()
	vectors := threeVectors()
	vectors[0] = nil

	_, err := e.Index(context.Background(), chunks, vectors)
	require.NoError(t, err)

	assert.Equal(t, 2, e.Len())
	assert.Equal(t, "guide_1", e.chunks.ID(0), "sequence counts skipped chunks of the same source")
	assert.Equal(t, "notes_0", e.chunks.ID(1))
}

func TestIndexSkipsInvalidEmbeddingsBeforePositions(t *testing.T) {
	e := newFlatEngine(t, "", nil)
	chunks := []domain.ChunkInput{
		{Text: "empty", Source: "a.md"},
		{Text: "zero", Source: "a.md"},
		{Text: "keep1", Source: "a.md"},
		{Text: "short", Source: "a.md"},
		{Text: "keep2", Source: "a.md"},
	}
	vectors := [][]float32{nil, {0, 0}, {3, 4}, {1}, {0, 2}}

	res, err := e.Index(context.Background(), chunks, vectors)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, map[string]int{SkipEmptyEmbedding: 1, SkipZeroNorm: 1, SkipWrongDimension: 1}, res.Skipped)
	assert.Equal(t, 3, res.SkippedTotal())

	assert.Equal(t, e.chunks.Len(), e.detail.Len())
	assert.Equal(t, e.chunks.Len(), e.summary.Len())

	r0, _ := e.chunks.Get(0)
	r1, _ := e.chunks.Get(1)
	assert.Equal(t, "keep1", r0.Text)
	assert.Equal(t, "keep2", r1.Text)

	v, ok := e.detail.Vector(0)
	require.True(t, ok)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestIndexPreconditions(t *testing.T) {
	ctx := context.Background()

	e := newFlatEngine(t, "", nil)
	_, err := e.Index(ctx, threeChunks(), threeVectors()[:2])
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = e.Index(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = e.Index(ctx, threeChunks(), [][]float32{nil, {0, 0}, {1}})
	assert.ErrorIs(t, err, ErrNoValidEmbeddings)

	_, err = e.Index(ctx, threeChunks(), threeVectors())
	require.NoError(t, err)
	_, err = e.Index(ctx, threeChunks(), threeVectors())
	assert.ErrorIs(t, err, ErrReadOnly, "built indexes are immutable")
}

func TestSearchPreconditions(t *testing.T) {
	e := newFlatEngine(t, "", nil)

	_, err := e.Search([]float32{1, 0}, 3)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = e.Index(context.Background(), threeChunks(), threeVectors())
	require.NoError(t, err)

	_, err = e.Search([]float32{1, 0, 0}, 3)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	got, err := e.Search([]float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = e.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	for _, r := range got {
		assert.Zero(t, r.Score, "a zero query scores everything 0")
	}
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Position, got[i].Position, "ties break by position")
	}
}

func TestSearchLargeK(t *testing.T) {
	for _, backend := range []string{vectorindex.BackendFlat, vectorindex.BackendHNSW} {
		t.Run(backend, func(t *testing.T) {
			e, err := New(Options{Backend: backend, Dimension: 2, HNSWM: 8, HNSWEfSearch: 16}, nil, nil, nil)
			require.NoError(t, err)
			_, err = e.Index(context.Background(), threeChunks(), threeVectors())
			require.NoError(t, err)

			for _, k := range []int{15_000_000, math.MaxInt} {
				got, err := e.Search([]float32{1, 0}, k)
				require.NoError(t, err)
				assert.Len(t, got, 3)

				coarse, err := e.Coarse([]float32{1, 0}, k)
				require.NoError(t, err)
				assert.Len(t, coarse, 3)
			}
		})
	}
}

// failingIndex rejects inserts from a given position on.
type failingIndex struct {
	port.VectorIndex
	failAt int
}

func (f *failingIndex) Add(position int, vector []float32) error {
	if position >= f.failAt {
		return errors.New("disk full")
	}
	return f.VectorIndex.Add(position, vector)
}

func TestIndexFailedAddKeepsStoreBehindIndexes(t *testing.T) {
	e := newFlatEngine(t, "", nil)
	e.summary = &failingIndex{VectorIndex: e.summary, failAt: 1}

	_, err := e.Index(context.Background(), threeChunks(), threeVectors())
	require.Error(t, err)
	assert.Equal(t, 1, e.chunks.Len(), "the record whose summary failed is not stored")
	assert.Equal(t, 1, e.summary.Len())

	_, err = e.Index(context.Background(), threeChunks(), threeVectors())
	assert.ErrorIs(t, err, ErrBroken)
	_, err = e.Search([]float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSummaryEmbeddingsDriveCandidates(t *testing.T) {
	embedder := &tableEmbedder{dim: 2, vectors: map[string][]float32{
		"sA": {0, 1},
		"sB": {1, 0},
		"sC": {1, 0.1},
	}}
	e := newFlatEngine(t, "", embedder)
	e.opts.Overfetch = 1

	res, err := e.Index(context.Background(), threeChunks(), threeVectors())
	require.NoError(t, err)
	assert.Zero(t, res.SummaryFallbacks)

	// Summary index points at B for [1,0], but the final score is the
	// detail vector's: B's detail vector is orthogonal to the query.
	got, err := e.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Position)
	assert.InDelta(t, 0.0, got[0].Score, 1e-6)

	coarse, err := e.Coarse([]float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, coarse, 1)
	assert.Equal(t, 1, coarse[0].Position)
	assert.InDelta(t, 1.0, coarse[0].Score, 1e-6)
}

func TestSummaryFallbackOnBadVectors(t *testing.T) {
	embedder := &tableEmbedder{dim: 2, vectors: map[string][]float32{
		"sA": {0, 0},
		"sB": {1, 2, 3},
	}}
	e := newFlatEngine(t, "", embedder)

	res, err := e.Index(context.Background(), threeChunks(), threeVectors())
	require.NoError(t, err)
	assert.Equal(t, 3, res.SummaryFallbacks)

	for pos := 0; pos < 3; pos++ {
		d, _ := e.detail.Vector(pos)
		s, _ := e.summary.Vector(pos)
		assert.Equal(t, d, s)
	}
}

func TestNormalizationIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const dim, n = 8, 40

	chunks := make([]domain.ChunkInput, n)
	raw := make([][]float32, n)
	unit := make([][]float32, n)
	for i := range raw {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		raw[i] = v
		unit[i], _ = vectorindex.Normalize(v)
		chunks[i] = domain.ChunkInput{Text: "t", Source: "s.md"}
	}

	a, err := New(Options{Backend: vectorindex.BackendFlat, Dimension: dim}, nil, nil, nil)
	require.NoError(t, err)
	b, err := New(Options{Backend: vectorindex.BackendFlat, Dimension: dim}, nil, nil, nil)
	require.NoError(t, err)
	_, err = a.Index(context.Background(), chunks, raw)
	require.NoError(t, err)
	_, err = b.Index(context.Background(), chunks, unit)
	require.NoError(t, err)

	ra, err := a.Search(raw[5], 5)
	require.NoError(t, err)
	rb, err := b.Search(unit[5], 5)
	require.NoError(t, err)
	require.Len(t, rb, len(ra))
	for i := range ra {
		assert.Equal(t, ra[i].Position, rb[i].Position)
		assert.InDelta(t, ra[i].Score, rb[i].Score, 1e-6)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "document_index")
	sink := &recordingSink{}

	e := newFlatEngine(t, root, nil)
	e.opts.ProgressEvery = 1
	e.SetProgressSink(sink)

	res, err := e.Index(context.Background(), threeChunks(), threeVectors())
	require.NoError(t, err)
	require.NotEmpty(t, res.Generation)

	last := sink.events[len(sink.events)-1]
	assert.Equal(t, domain.StatusCompleted, last.Status)
	assert.Equal(t, 3, last.Current)
	assert.Greater(t, len(sink.events), 1)

	loaded, err := Load(Options{Root: root, Backend: vectorindex.BackendFlat, Dimension: 2}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Len())
	assert.Equal(t, res.Generation, loaded.Info().Generation)

	q := []float32{0.3, 0.9}
	before, err := e.Search(q, 3)
	require.NoError(t, err)
	after, err := loaded.Search(q, 3)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Position, after[i].Position)
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Record, after[i].Record)
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-6)
	}

	_, err = loaded.Index(context.Background(), threeChunks(), threeVectors())
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(Options{Root: t.TempDir(), Dimension: 2}, nil, nil)
	assert.ErrorIs(t, err, store.ErrNoIndex)

	root := t.TempDir()
	e, err := New(Options{Root: root, Backend: vectorindex.BackendFlat, Dimension: 2, ConfigHash: "aaaa"}, nil, nil, nil)
	require.NoError(t, err)
	_, err = e.Index(context.Background(), threeChunks(), threeVectors())
	require.NoError(t, err)

	_, err = Load(Options{Root: root, Dimension: 2, ConfigHash: "bbbb"}, nil, nil)
	assert.ErrorIs(t, err, store.ErrRebuildRequired)

	_, err = Load(Options{Root: root, Dimension: 2, ConfigHash: "aaaa"}, nil, nil)
	assert.NoError(t, err)
}

func TestConcurrentSearch(t *testing.T) {
	e, err := New(Options{Backend: vectorindex.BackendHNSW, Dimension: 2}, nil, nil, nil)
	require.NoError(t, err)
	_, err = e.Index(context.Background(), threeChunks(), threeVectors())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Search([]float32{1, 0}, 1)
			assert.NoError(t, err)
			if assert.Len(t, got, 1) {
				assert.Equal(t, 0, got[0].Position)
			}
		}()
	}
	wg.Wait()
}
