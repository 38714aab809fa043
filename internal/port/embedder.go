package port

import "context"

// EmbeddingService is a single blocking call to an external embedding model.
type EmbeddingService interface {
	// EmbedText returns the raw embedding for one text.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// Embedder turns texts into fixed-dimension vectors.
type Embedder interface {
	// Embed returns exactly one vector per input text, in input order.
	// A nil vector marks an input that could not be embedded.
	Embed(ctx context.Context, texts []string) [][]float32

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}
