package embedding

import (
	"context"
	"hash/fnv"
	"strings"
)

// MockService derives a deterministic vector from the words of a text.
// Texts sharing words land near each other, which is enough for offline
// runs and tests.
type MockService struct {
	dimension int
}

func NewMockService(dimension int) *MockService {
	return &MockService{dimension: dimension}
}

func (s *MockService) EmbedText(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, s.dimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		sum := h.Sum32()
		v[int(sum%uint32(s.dimension))] += 1
		if sum&1 == 1 {
			v[int((sum>>8)%uint32(s.dimension))] += 0.5
		}
	}
	return v, nil
}

func (s *MockService) ModelName() string {
	return "mock"
}
