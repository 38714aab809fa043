package store

import "docrag/internal/domain"

// ChunkStore is the append-only position-to-record mapping shared by both
// vector indexes. Position i here is position i in each index.
type ChunkStore struct {
	records []domain.ChunkRecord
	ids     []string
}

func NewChunkStore() *ChunkStore {
	return &ChunkStore{}
}

// Append stores a record under the next position and returns it.
func (s *ChunkStore) Append(record domain.ChunkRecord, id string) int {
	s.records = append(s.records, record)
	s.ids = append(s.ids, id)
	return len(s.records) - 1
}

func (s *ChunkStore) Get(position int) (domain.ChunkRecord, bool) {
	if position < 0 || position >= len(s.records) {
		return domain.ChunkRecord{}, false
	}
	return s.records[position], true
}

// ID returns the external identifier for a position, or "".
func (s *ChunkStore) ID(position int) string {
	if position < 0 || position >= len(s.ids) {
		return ""
	}
	return s.ids[position]
}

func (s *ChunkStore) Len() int {
	return len(s.records)
}

// Records returns a copy of all records in position order.
func (s *ChunkStore) Records() []domain.ChunkRecord {
	out := make([]domain.ChunkRecord, len(s.records))
	copy(out, s.records)
	return out
}

// IDs returns a copy of all external identifiers in position order.
func (s *ChunkStore) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}
