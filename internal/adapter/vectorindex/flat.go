package vectorindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"docrag/internal/port"
)

// FlatIndex is an exact brute-force index. Every query scans all vectors,
// which is fine for collections of a few hundred thousand chunks.
type FlatIndex struct {
	dimension int
	vectors   [][]float32
	built     bool
}

// NewFlatIndex creates an empty flat index in build mode.
func NewFlatIndex(dimension int) *FlatIndex {
	return &FlatIndex{dimension: dimension}
}

func (f *FlatIndex) Add(position int, vector []float32) error {
	if f.built {
		return ErrIndexBuilt
	}
	if position != len(f.vectors) {
		return fmt.Errorf("%w: got %d, want %d", ErrNonContiguous, position, len(f.vectors))
	}
	if len(vector) != f.dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimension, f.dimension, len(vector))
	}
	v := make([]float32, len(vector))
	copy(v, vector)
	f.vectors = append(f.vectors, v)
	return nil
}

func (f *FlatIndex) Build() error {
	f.built = true
	return nil
}

// Query scans every vector and returns the k closest by Euclidean distance.
func (f *FlatIndex) Query(vector []float32, k int) []port.Neighbor {
	if !f.built || k <= 0 || len(vector) != f.dimension || len(f.vectors) == 0 {
		return nil
	}

	neighbors := make([]port.Neighbor, len(f.vectors))
	for i, v := range f.vectors {
		neighbors[i] = port.Neighbor{Position: i, Distance: EuclideanDistance(vector, v)}
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Distance < neighbors[j].Distance
	})

	if k > len(neighbors) {
		k = len(neighbors)
	}
	return neighbors[:k]
}

func (f *FlatIndex) Vector(position int) ([]float32, bool) {
	if position < 0 || position >= len(f.vectors) {
		return nil, false
	}
	return f.vectors[position], true
}

func (f *FlatIndex) Len() int { return len(f.vectors) }

func (f *FlatIndex) Dimension() int { return f.dimension }

func (f *FlatIndex) Backend() string { return BackendFlat }

// Save writes the header followed by count*dimension little-endian float32s.
func (f *FlatIndex) Save(w io.Writer) error {
	if !f.built {
		return ErrNotBuilt
	}
	bw := bufio.NewWriter(w)
	if err := writeHeader(bw, BackendFlat, f.dimension, len(f.vectors)); err != nil {
		return err
	}
	for _, v := range f.vectors {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("failed to write vector: %w", err)
		}
	}
	return bw.Flush()
}

// Load replaces the index content with a saved index. The loaded index is
// read-only.
func (f *FlatIndex) Load(r io.Reader) error {
	br := bufio.NewReader(r)
	h, err := readHeader(br, BackendFlat, f.dimension)
	if err != nil {
		return err
	}

	vectors := make([][]float32, h.count)
	for i := range vectors {
		v := make([]float32, h.dimension)
		if err := binary.Read(br, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("%w: vector %d: %v", ErrCorrupt, i, err)
		}
		vectors[i] = v
	}

	f.vectors = vectors
	f.built = true
	return nil
}
