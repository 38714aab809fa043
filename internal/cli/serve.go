package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docrag/config"
	"docrag/internal/adapter/fs"
	"docrag/internal/adapter/retriever"
	"docrag/internal/domain"
	"docrag/internal/engine"
	"docrag/internal/logging"
	"docrag/internal/metrics"
	"docrag/internal/usecase"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve search over HTTP",
	Long: `Start an HTTP server over the persisted index.

Endpoints:
  POST /search   {"query": "...", "k": 5, "rerank": false}
  POST /chat     {"question": "...", "rerank": false}
  POST /reload   reload the current index generation from disk
  POST /rebuild  re-index the project's chunk files and swap the result in
  GET  /healthz  readiness and index size
  GET  /metrics  Prometheus metrics

With --watch the index is reloaded whenever 'rag index' publishes a new
generation.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "reload when a new index generation is published")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	srv, err := newServer(cfg, GetRootDir(), logger, appMetrics, registry)
	if err != nil {
		return err
	}
	if err := srv.reload(); err != nil {
		logger.Warn("starting without an index", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveWatch {
		if err := cfg.EnsureIndexDir(GetRootDir()); err != nil {
			return fmt.Errorf("failed to create index directory: %w", err)
		}
		watchReady := make(chan struct{})
		go func() {
			if err := srv.watch(ctx, watchReady); err != nil {
				logger.Error("index watch stopped", zap.Error(err))
			}
		}()
		<-watchReady
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// server serves queries against a loaded engine. The engine is replaced
// wholesale on reload; in-flight requests keep the one they started with.
type server struct {
	cfg      *config.Config
	dir      string
	logger   *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	stack    *retrievalStack

	mu     sync.RWMutex
	engine *engine.Engine

	// rebuilding serializes /rebuild requests.
	rebuilding sync.Mutex
}

func newServer(cfg *config.Config, dir string, logger *zap.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) (*server, error) {
	logger = logging.OrNop(logger)
	// The judge is optional for serving; /chat and reranking report it
	// as unavailable instead of refusing to start.
	stack, err := newRetrievalStack(cfg, true, logger, m)
	if err != nil {
		stack, err = newRetrievalStack(cfg, false, logger, m)
		if err != nil {
			return nil, err
		}
		logger.Warn("judge model unavailable", zap.String("provider", cfg.Judge.Provider))
	}

	return &server{
		cfg:      cfg,
		dir:      dir,
		logger:   logger,
		metrics:  m,
		gatherer: gatherer,
		stack:    stack,
	}, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /reload", s.handleReload)
	mux.HandleFunc("POST /rebuild", s.handleRebuild)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *server) current() *engine.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// reload loads the current generation from disk and swaps it in.
func (s *server) reload() error {
	eng, err := openEngine(s.cfg, s.dir, s.logger, s.metrics)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.engine = eng
	s.mu.Unlock()

	if s.stack.cache != nil {
		s.stack.cache.Invalidate()
	}
	info := eng.Info()
	s.logger.Info("index loaded",
		zap.String("generation", info.Generation),
		zap.Int("chunks", info.Count),
	)
	return nil
}

// watch reloads the engine whenever the CURRENT pointer under the index
// root is replaced. ready is closed once the watch is in place or has
// failed to start.
func (s *server) watch(ctx context.Context, ready chan<- struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		close(ready)
		return err
	}
	defer w.Close()

	root := s.cfg.IndexRoot(s.dir)
	if err := w.Add(root); err != nil {
		close(ready)
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	close(ready)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != "CURRENT" || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.Warn("reload after index change failed", zap.Error(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("index watch error", zap.Error(err))
		}
	}
}

type searchRequest struct {
	Query  string `json:"query"`
	K      int    `json:"k"`
	Rerank bool   `json:"rerank"`
}

type searchResponse struct {
	Query   string                `json:"query"`
	Results []domain.SearchResult `json:"results"`
	TookMS  int64                 `json:"took_ms"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, errors.New("query is required"))
		return
	}
	if req.K <= 0 {
		req.K = s.cfg.Retrieve.TopK
	}

	retrieveUC, status, err := s.retrieveUseCase(s.wantRerank(req.Rerank))
	if err != nil {
		writeError(w, status, err)
		return
	}

	start := time.Now()
	results, err := retrieveUC.RetrieveAll(r.Context(), req.Query, req.K)
	if err != nil {
		writeError(w, searchStatus(err), err)
		return
	}
	if results == nil {
		results = []domain.SearchResult{}
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Query:   req.Query,
		Results: results,
		TookMS:  time.Since(start).Milliseconds(),
	})
}

type chatRequest struct {
	Question string `json:"question"`
	Rerank   bool   `json:"rerank"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, errors.New("question is required"))
		return
	}
	if s.stack.judge == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no language model configured"))
		return
	}

	retrieveUC, status, err := s.retrieveUseCase(s.wantRerank(req.Rerank))
	if err != nil {
		writeError(w, status, err)
		return
	}

	answer, err := usecase.NewAnswerUseCase(retrieveUC, s.stack.judge, s.cfg.Retrieve.TopK).Answer(r.Context(), req.Question)
	if err != nil {
		writeError(w, searchStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.reload(); err != nil {
		s.logger.Error("reload failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, s.current().Info())
}

// rebuild indexes the chunk files under the project directory into a new
// generation and swaps it in. The serving engine is untouched on failure.
func (s *server) rebuild(ctx context.Context) (*usecase.IndexResult, error) {
	if err := s.cfg.EnsureIndexDir(s.dir); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	eng, err := engine.New(engine.OptionsFromConfig(s.cfg, s.dir), s.stack.embedder, s.logger, s.metrics)
	if err != nil {
		return nil, err
	}

	walker := fs.NewWalker(s.cfg.Index.Includes, s.cfg.Index.Excludes)
	result, err := usecase.NewIndexUseCase(walker, s.stack.embedder, eng, nil, s.logger).Index(ctx, s.dir)
	if err != nil {
		return nil, err
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if !s.rebuilding.TryLock() {
		writeError(w, http.StatusConflict, errors.New("a rebuild is already running"))
		return
	}
	defer s.rebuilding.Unlock()

	result, err := s.rebuild(r.Context())
	if err != nil {
		s.logger.Error("rebuild failed", zap.Error(err))
		writeError(w, rebuildStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func rebuildStatus(err error) int {
	switch {
	case errors.Is(err, usecase.ErrNoChunkFiles):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrNoValidEmbeddings):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
	Chunks int    `json:"chunks"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if eng := s.current(); eng != nil {
		resp.Ready = eng.Ready()
		resp.Chunks = eng.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

// wantRerank reports whether a request is reranked. rerank.enabled
// applies only when a judge is available; an explicit request without one
// is refused by retrieveUseCase.
func (s *server) wantRerank(requested bool) bool {
	return requested || (s.cfg.Rerank.Enabled && s.stack.judge != nil)
}

func (s *server) retrieveUseCase(rerank bool) (*usecase.RetrieveUseCase, int, error) {
	eng := s.current()
	if eng == nil {
		return nil, http.StatusServiceUnavailable, engine.ErrNotReady
	}
	if rerank && s.stack.judge == nil {
		return nil, http.StatusBadRequest, errors.New("reranking requested but no judge model is configured")
	}
	r := s.stack.retrieverFor(s.cfg, eng, rerank, s.logger, s.metrics)
	return usecase.NewRetrieveUseCase(r, s.cfg.Retrieve.MinScoreThreshold), 0, nil
}

func searchStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, retriever.ErrQueryEmbedding):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
