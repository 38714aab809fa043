package port

import "io"

// Neighbor is one query hit: an index position and the index's native distance.
type Neighbor struct {
	Position int
	Distance float64
}

// VectorIndex is the approximate nearest neighbor contract used by the engine.
// Positions are dense and assigned by the caller starting at 0.
type VectorIndex interface {
	// Add inserts a vector at the next position. Only valid before Build.
	Add(position int, vector []float32) error

	// Build finalizes the index; afterwards it is read-only and queryable.
	Build() error

	// Query returns at most k neighbors ordered by ascending distance.
	Query(vector []float32, k int) []Neighbor

	// Vector returns the stored vector for a position.
	Vector(position int) ([]float32, bool)

	// Len returns the number of stored vectors.
	Len() int

	// Dimension returns the vector dimension.
	Dimension() int

	// Backend names the index implementation ("flat", "hnsw").
	Backend() string

	Save(w io.Writer) error

	Load(r io.Reader) error
}
