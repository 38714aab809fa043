package vectorindex

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"docrag/internal/port"
)

// HNSWIndex wraps a coder/hnsw graph keyed by position.
type HNSWIndex struct {
	dimension int
	efSearch  int
	built     bool

	// Search tunes EfSearch per call, so graph access is serialized.
	mu    sync.Mutex
	graph *hnsw.Graph[int]
}

// NewHNSWIndex creates an empty HNSW index in build mode.
func NewHNSWIndex(dimension, m, efSearch int) *HNSWIndex {
	g := hnsw.NewGraph[int]()
	g.Distance = hnsw.EuclideanDistance
	if m > 0 {
		g.M = m
	}
	if efSearch > 0 {
		g.EfSearch = efSearch
	}
	return &HNSWIndex{
		dimension: dimension,
		efSearch:  g.EfSearch,
		graph:     g,
	}
}

func (h *HNSWIndex) Add(position int, vector []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.built {
		return ErrIndexBuilt
	}
	if position != h.graph.Len() {
		return fmt.Errorf("%w: got %d, want %d", ErrNonContiguous, position, h.graph.Len())
	}
	if len(vector) != h.dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimension, h.dimension, len(vector))
	}

	v := make([]float32, len(vector))
	copy(v, vector)
	h.graph.Add(hnsw.MakeNode(position, v))
	return nil
}

// Build marks the graph read-only; the graph itself is built incrementally.
func (h *HNSWIndex) Build() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.built = true
	return nil
}

// Query searches the graph and reports the Euclidean distance recomputed on
// the stored vectors, independent of the graph's internal distance scale.
func (h *HNSWIndex) Query(vector []float32, k int) []port.Neighbor {
	if k <= 0 || len(vector) != h.dimension {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.built || h.graph.Len() == 0 {
		return nil
	}

	// coder/hnsw preallocates by k and ef, so neither may exceed the graph.
	if n := h.graph.Len(); k > n {
		k = n
	}
	ef := h.efSearch
	if k > ef {
		ef = k
	}
	h.graph.EfSearch = ef
	nodes := h.graph.Search(vector, k)
	h.graph.EfSearch = h.efSearch

	neighbors := make([]port.Neighbor, 0, len(nodes))
	for _, n := range nodes {
		neighbors = append(neighbors, port.Neighbor{
			Position: n.Key,
			Distance: EuclideanDistance(vector, n.Value),
		})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Distance == neighbors[j].Distance {
			return neighbors[i].Position < neighbors[j].Position
		}
		return neighbors[i].Distance < neighbors[j].Distance
	})

	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors
}

func (h *HNSWIndex) Vector(position int) ([]float32, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.graph.Lookup(position)
	if !ok {
		return nil, false
	}
	return v, true
}

func (h *HNSWIndex) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.graph.Len()
}

func (h *HNSWIndex) Dimension() int { return h.dimension }

func (h *HNSWIndex) Backend() string { return BackendHNSW }

// Save writes the header followed by the graph's own export format.
func (h *HNSWIndex) Save(w io.Writer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.built {
		return ErrNotBuilt
	}
	bw := bufio.NewWriter(w)
	if err := writeHeader(bw, BackendHNSW, h.dimension, h.graph.Len()); err != nil {
		return err
	}
	if err := h.graph.Export(bw); err != nil {
		return fmt.Errorf("failed to export graph: %w", err)
	}
	return bw.Flush()
}

func (h *HNSWIndex) Load(r io.Reader) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	br := bufio.NewReader(r)
	hdr, err := readHeader(br, BackendHNSW, h.dimension)
	if err != nil {
		return err
	}

	g := hnsw.NewGraph[int]()
	g.Distance = hnsw.EuclideanDistance
	if err := g.Import(br); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if g.Len() != hdr.count {
		return fmt.Errorf("%w: header count %d, graph has %d", ErrCorrupt, hdr.count, g.Len())
	}

	h.efSearch = g.EfSearch
	h.graph = g
	h.built = true
	return nil
}
