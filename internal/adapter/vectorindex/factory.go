package vectorindex

import (
	"fmt"

	"docrag/internal/port"
)

const (
	BackendFlat = "flat"
	BackendHNSW = "hnsw"
)

// Options selects and tunes an index backend.
type Options struct {
	Backend   string
	Dimension int
	M         int
	EfSearch  int
}

// New creates an empty index for the configured backend.
func New(opts Options) (port.VectorIndex, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", opts.Dimension)
	}
	switch opts.Backend {
	case BackendFlat:
		return NewFlatIndex(opts.Dimension), nil
	case BackendHNSW, "":
		return NewHNSWIndex(opts.Dimension, opts.M, opts.EfSearch), nil
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", opts.Backend)
	}
}
