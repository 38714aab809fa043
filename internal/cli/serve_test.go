package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/config"
	"docrag/internal/adapter/embedding"
	"docrag/internal/domain"
	"docrag/internal/engine"
	"docrag/internal/metrics"
	"docrag/internal/usecase"
)

// fakeJudge answers judgment prompts with a fixed ranking and anything
// else with a fixed answer.
func fakeJudge(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		reply := "Bolt keeps keys in buckets."
		if strings.Contains(req.Prompt, "Passages:") {
			reply = "[[2, 0.9], [1, 0.5]]"
		}
		json.NewEncoder(w).Encode(map[string]string{"response": reply})
	}))
}

func testConfig(judgeURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimension = 64
	cfg.Embedding.MaxAttempts = 1
	cfg.Index.Backend = "flat"
	cfg.Retrieve.MinScoreThreshold = 0
	cfg.Judge.BaseURL = judgeURL
	return cfg
}

func buildIndex(t *testing.T, cfg *config.Config, dir string, chunks []domain.ChunkInput) {
	t.Helper()
	embedder, err := embedding.NewFromConfig(cfg.Embedding, nil, nil)
	require.NoError(t, err)
	eng, err := engine.New(engine.OptionsFromConfig(cfg, dir), embedder, nil, nil)
	require.NoError(t, err)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	_, err = eng.Index(context.Background(), chunks, embedder.Embed(context.Background(), texts))
	require.NoError(t, err)
}

var storageChunks = []domain.ChunkInput{
	{Text: "Go channels pass values between goroutines", Summary: "goroutines channels", Source: "docs/concurrency.md"},
	{Text: "Bolt is an embedded key value store", Summary: "bolt key value store", Source: "docs/storage.md"},
	{Text: "HNSW builds a layered proximity graph", Summary: "hnsw graph index", Source: "docs/ann.md"},
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func newTestServer(t *testing.T, cfg *config.Config, dir string) (*server, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	srv, err := newServer(cfg, dir, nil, metrics.New(reg), reg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestServeWithoutIndex(t *testing.T) {
	judge := fakeJudge(t)
	defer judge.Close()
	cfg := testConfig(judge.URL)
	_, ts := newTestServer(t, cfg, t.TempDir())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	health := decode[healthResponse](t, resp)
	assert.False(t, health.Ready)

	resp = postJSON(t, ts.URL+"/search", searchRequest{Query: "bolt"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/reload", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestServeSearch(t *testing.T) {
	judge := fakeJudge(t)
	defer judge.Close()
	cfg := testConfig(judge.URL)
	dir := t.TempDir()
	buildIndex(t, cfg, dir, storageChunks)

	srv, ts := newTestServer(t, cfg, dir)
	require.NoError(t, srv.reload())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	health := decode[healthResponse](t, resp)
	assert.True(t, health.Ready)
	assert.Equal(t, 3, health.Chunks)

	resp = postJSON(t, ts.URL+"/search", searchRequest{Query: "bolt key value store", K: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[searchResponse](t, resp)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "storage_0", got.Results[0].ID)

	resp = postJSON(t, ts.URL+"/search", searchRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Post(ts.URL+"/search", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestServeSearchRerank(t *testing.T) {
	judge := fakeJudge(t)
	defer judge.Close()
	cfg := testConfig(judge.URL)
	dir := t.TempDir()
	buildIndex(t, cfg, dir, storageChunks)

	srv, ts := newTestServer(t, cfg, dir)
	require.NoError(t, srv.reload())

	coarse := decode[searchResponse](t, postJSON(t, ts.URL+"/search", searchRequest{Query: "bolt key value store", K: 3}))
	require.Len(t, coarse.Results, 3)

	reranked := decode[searchResponse](t, postJSON(t, ts.URL+"/search", searchRequest{Query: "bolt key value store", K: 3, Rerank: true}))
	require.Len(t, reranked.Results, 2)
	assert.Equal(t, coarse.Results[1].ID, reranked.Results[0].ID)
	assert.InDelta(t, 0.9, reranked.Results[0].Score, 1e-9)
	assert.Equal(t, coarse.Results[0].ID, reranked.Results[1].ID)
}

func TestServeChat(t *testing.T) {
	judge := fakeJudge(t)
	defer judge.Close()
	cfg := testConfig(judge.URL)
	dir := t.TempDir()
	buildIndex(t, cfg, dir, storageChunks)

	srv, ts := newTestServer(t, cfg, dir)
	require.NoError(t, srv.reload())

	resp := postJSON(t, ts.URL+"/chat", chatRequest{Question: "bolt key value store"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	type chatAnswer struct {
		Answer  string                `json:"answer"`
		Sources []domain.SearchResult `json:"sources"`
	}
	answer := decode[chatAnswer](t, resp)
	assert.Equal(t, "Bolt keeps keys in buckets.", answer.Answer)
	assert.NotEmpty(t, answer.Sources)

	resp = postJSON(t, ts.URL+"/chat", chatRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestServeReloadSwapsIndex(t *testing.T) {
	judge := fakeJudge(t)
	defer judge.Close()
	cfg := testConfig(judge.URL)
	dir := t.TempDir()
	buildIndex(t, cfg, dir, storageChunks)

	srv, ts := newTestServer(t, cfg, dir)
	require.NoError(t, srv.reload())

	first := decode[searchResponse](t, postJSON(t, ts.URL+"/search", searchRequest{Query: "bolt key value store", K: 1}))
	require.Len(t, first.Results, 1)
	assert.Equal(t, "storage_0", first.Results[0].ID)

	buildIndex(t, cfg, dir, []domain.ChunkInput{
		{Text: "Bolt is an embedded key value store", Summary: "bolt key value store", Source: "notes/bolt.md"},
		{Text: "Raft replicates a log", Summary: "raft consensus", Source: "notes/raft.md"},
	})

	resp := postJSON(t, ts.URL+"/reload", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[engine.Info](t, resp)
	assert.Equal(t, 2, info.Count)

	second := decode[searchResponse](t, postJSON(t, ts.URL+"/search", searchRequest{Query: "bolt key value store", K: 1}))
	require.Len(t, second.Results, 1)
	assert.Equal(t, "bolt_0", second.Results[0].ID, "cached results must not survive a reload")
}

func TestServeSearchStraddlingReload(t *testing.T) {
	judge := fakeJudge(t)
	defer judge.Close()
	cfg := testConfig(judge.URL)
	dir := t.TempDir()
	buildIndex(t, cfg, dir, storageChunks)

	srv, ts := newTestServer(t, cfg, dir)
	require.NoError(t, srv.reload())

	// A request resolves its engine, then the index is swapped before its
	// search completes.
	inFlight, _, err := srv.retrieveUseCase(false)
	require.NoError(t, err)

	buildIndex(t, cfg, dir, []domain.ChunkInput{
		{Text: "Bolt is an embedded key value store", Summary: "bolt key value store", Source: "notes/bolt.md"},
		{Text: "Raft replicates a log", Summary: "raft consensus", Source: "notes/raft.md"},
	})
	require.NoError(t, srv.reload())

	old, err := inFlight.RetrieveAll(context.Background(), "bolt key value store", 1)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "storage_0", old[0].ID)

	got := decode[searchResponse](t, postJSON(t, ts.URL+"/search", searchRequest{Query: "bolt key value store", K: 1}))
	require.Len(t, got.Results, 1)
	assert.Equal(t, "bolt_0", got.Results[0].ID)
}

func TestServeRerankEnabledByConfig(t *testing.T) {
	judge := fakeJudge(t)
	defer judge.Close()
	cfg := testConfig(judge.URL)
	cfg.Rerank.Enabled = true
	dir := t.TempDir()
	buildIndex(t, cfg, dir, storageChunks)

	srv, ts := newTestServer(t, cfg, dir)
	require.NoError(t, srv.reload())

	got := decode[searchResponse](t, postJSON(t, ts.URL+"/search", searchRequest{Query: "bolt key value store", K: 3}))
	require.Len(t, got.Results, 2, "the judge drops the unranked passage")
	assert.InDelta(t, 0.9, got.Results[0].Score, 1e-9)
}

func writeChunkFile(t *testing.T, dir string, chunks []domain.ChunkInput) {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range chunks {
		require.NoError(t, enc.Encode(c))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "chunks"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chunks", "all.jsonl"), buf.Bytes(), 0644))
}

func TestServeRebuild(t *testing.T) {
	judge := fakeJudge(t)
	defer judge.Close()
	cfg := testConfig(judge.URL)
	dir := t.TempDir()
	srv, ts := newTestServer(t, cfg, dir)

	resp := postJSON(t, ts.URL+"/rebuild", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
	assert.Nil(t, srv.current(), "a failed rebuild leaves nothing loaded")

	writeChunkFile(t, dir, storageChunks)

	resp = postJSON(t, ts.URL+"/rebuild", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	type rebuildResult struct {
		FilesRead  int `json:"files_read"`
		ChunksRead int `json:"chunks_read"`
		Accepted   int `json:"accepted"`
	}
	result := decode[rebuildResult](t, resp)
	assert.Equal(t, 1, result.FilesRead)
	assert.Equal(t, 3, result.ChunksRead)
	assert.Equal(t, 3, result.Accepted)

	got := decode[searchResponse](t, postJSON(t, ts.URL+"/search", searchRequest{Query: "bolt key value store", K: 1}))
	require.Len(t, got.Results, 1)
	assert.Equal(t, "storage_0", got.Results[0].ID)

	writeChunkFile(t, dir, storageChunks[:1])
	resp = postJSON(t, ts.URL+"/rebuild", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 1, srv.current().Len(), "the rebuilt generation is swapped in")
}

func TestRebuildStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{usecase.ErrNoChunkFiles, http.StatusUnprocessableEntity},
		{engine.ErrNoValidEmbeddings, http.StatusBadGateway},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rebuildStatus(fmt.Errorf("rebuild: %w", tt.err)), tt.err.Error())
	}
}

func TestServeMetrics(t *testing.T) {
	judge := fakeJudge(t)
	defer judge.Close()
	cfg := testConfig(judge.URL)
	dir := t.TempDir()
	buildIndex(t, cfg, dir, storageChunks)

	srv, ts := newTestServer(t, cfg, dir)
	require.NoError(t, srv.reload())

	resp := postJSON(t, ts.URL+"/search", searchRequest{Query: "bolt", K: 2})
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "docrag_search_duration_seconds")
}

func TestServeWatchReloadsOnNewGeneration(t *testing.T) {
	judge := fakeJudge(t)
	defer judge.Close()
	cfg := testConfig(judge.URL)
	dir := t.TempDir()
	buildIndex(t, cfg, dir, storageChunks)

	srv, _ := newTestServer(t, cfg, dir)
	require.NoError(t, srv.reload())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- srv.watch(ctx, ready) }()
	<-ready

	buildIndex(t, cfg, dir, storageChunks[:2])

	assert.Eventually(t, func() bool {
		return srv.current().Len() == 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
