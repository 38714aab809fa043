package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedService answers from a fixed table and counts calls per text.
type scriptedService struct {
	mu      sync.Mutex
	calls   map[string]int
	vectors map[string][]float32
	hang    map[string]bool
	failN   map[string]int
}

func newScriptedService() *scriptedService {
	return &scriptedService{
		calls:   map[string]int{},
		vectors: map[string][]float32{},
		hang:    map[string]bool{},
		failN:   map[string]int{},
	}
}

func (s *scriptedService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.calls[text]++
	n := s.calls[text]
	hang := s.hang[text]
	failN := s.failN[text]
	vec := s.vectors[text]
	s.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n <= failN {
		return nil, errors.New("transient failure")
	}
	return vec, nil
}

func (s *scriptedService) ModelName() string { return "scripted" }

func (s *scriptedService) callsFor(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[text]
}

func TestClientEmbedPreservesOrderAndIsolatesFailures(t *testing.T) {
	svc := newScriptedService()
	texts := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for i, text := range texts {
		svc.vectors[text] = []float32{float32(i + 1), 0}
	}
	svc.hang["gamma"] = true

	client := NewClient(svc, ClientOptions{
		Dimension:   2,
		Timeout:     20 * time.Millisecond,
		MaxAttempts: 3,
		Concurrency: 2,
	}, nil, nil)

	got := client.Embed(context.Background(), texts)
	require.Len(t, got, 5)
	assert.Nil(t, got[2])
	assert.Equal(t, 3, svc.callsFor("gamma"), "a timing-out item is attempted exactly three times")

	for i, text := range texts {
		if i == 2 {
			continue
		}
		assert.Equal(t, []float32{float32(i + 1), 0}, got[i], text)
		assert.Equal(t, 1, svc.callsFor(text))
	}
}

func TestClientRetriesTransientErrors(t *testing.T) {
	svc := newScriptedService()
	svc.vectors["flaky"] = []float32{1, 2, 3}
	svc.failN["flaky"] = 2

	client := NewClient(svc, ClientOptions{Dimension: 3, Timeout: time.Second, MaxAttempts: 3}, nil, nil)

	assert.Equal(t, []float32{1, 2, 3}, client.EmbedOne(context.Background(), "flaky"))
	assert.Equal(t, 3, svc.callsFor("flaky"))
}

func TestClientBlankTextSkipsService(t *testing.T) {
	svc := newScriptedService()
	client := NewClient(svc, ClientOptions{Dimension: 2, MaxAttempts: 3}, nil, nil)

	got := client.Embed(context.Background(), []string{"", "   \n\t"})
	assert.Equal(t, [][]float32{nil, nil}, got)
	assert.Zero(t, svc.callsFor(""))
	assert.Zero(t, svc.callsFor("   \n\t"))
}

func TestClientRejectsWrongDimensionWithoutRetry(t *testing.T) {
	svc := newScriptedService()
	svc.vectors["short"] = []float32{1, 2}

	client := NewClient(svc, ClientOptions{Dimension: 4, MaxAttempts: 3}, nil, nil)

	assert.Nil(t, client.EmbedOne(context.Background(), "short"))
	assert.Equal(t, 1, svc.callsFor("short"))
}

func TestClientEmptyBatch(t *testing.T) {
	client := NewClient(newScriptedService(), ClientOptions{Dimension: 2}, nil, nil)
	assert.Empty(t, client.Embed(context.Background(), nil))
}

func TestOllamaService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)

		if req.Prompt == "broken" {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	svc := NewOllamaService("all-minilm", srv.URL+"/")

	vec, err := svc.EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	_, err = svc.EmbedText(context.Background(), "broken")
	assert.ErrorContains(t, err, "status 500")
}

func TestOpenAIService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}],"model":"m"}`))
	}))
	defer srv.Close()

	t.Setenv("DOCRAG_TEST_KEY", "test-key")
	svc, err := NewOpenAIService("DOCRAG_TEST_KEY", "m", srv.URL)
	require.NoError(t, err)

	vec, err := svc.EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)

	_, err = NewOpenAIService("DOCRAG_MISSING_KEY", "m", srv.URL)
	assert.Error(t, err)
}

func TestMockServiceIsDeterministic(t *testing.T) {
	svc := NewMockService(16)
	a, err := svc.EmbedText(context.Background(), "binary search tree")
	require.NoError(t, err)
	b, err := svc.EmbedText(context.Background(), "Binary Search tree")
	require.NoError(t, err)

	assert.Len(t, a, 16)
	assert.Equal(t, a, b)
}
