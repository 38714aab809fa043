package domain

// ChunkInput is a chunk as produced by the external chunker.
type ChunkInput struct {
	Text    string `json:"text"`
	Summary string `json:"summary"`
	Source  string `json:"source"`
}

// ChunkRecord is the immutable metadata stored for an indexed chunk.
type ChunkRecord struct {
	Text    string `json:"text"`
	Source  string `json:"source"`
	Summary string `json:"summary"`
}

type SearchResult struct {
	Score    float64     `json:"score"`
	Position int         `json:"position"`
	ID       string      `json:"id"`
	Record   ChunkRecord `json:"record"`
}

type ContextItem struct {
	Text    string  `json:"text"`
	Summary string  `json:"summary"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// Progress statuses.
const (
	StatusProgress  = "progress"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// ProgressEvent is an informational indexing progress update.
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ContextItemFromResult converts a search result into a formatter item.
func ContextItemFromResult(r SearchResult) ContextItem {
	return ContextItem{
		Text:    r.Record.Text,
		Summary: r.Record.Summary,
		Source:  r.Record.Source,
		Score:   r.Score,
	}
}
