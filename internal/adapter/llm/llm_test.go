package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/config"
)

func TestOllamaGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen:7b", req.Model)
		assert.False(t, req.Stream)

		_ = json.NewEncoder(w).Encode(generateResponse{Response: "[[1, 0.9]]"})
	}))
	defer srv.Close()

	g := NewOllamaGenerator("qwen:7b", srv.URL)
	out, err := g.Generate(context.Background(), "judge these")
	require.NoError(t, err)
	assert.Equal(t, "[[1, 0.9]]", out)
	assert.Equal(t, "qwen:7b", g.ModelName())
}

func TestOllamaGeneratorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator("m", srv.URL).Generate(context.Background(), "x")
	assert.ErrorContains(t, err, "status 502")
}

func TestOpenAIGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	t.Setenv("DOCRAG_JUDGE_KEY", "k")
	g, err := NewOpenAIGenerator("DOCRAG_JUDGE_KEY", "gpt-4o-mini", srv.URL)
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestWithTimeoutCancelsSlowCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	g := WithTimeout(NewOllamaGenerator("m", srv.URL), 30*time.Millisecond)
	_, err := g.Generate(context.Background(), "x")
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	g, err := NewFromConfig(config.JudgeConfig{Provider: "ollama", Model: "qwen:7b", Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "qwen:7b", g.ModelName())

	_, err = NewFromConfig(config.JudgeConfig{Provider: "bogus", Model: "x"})
	assert.Error(t, err)
}
