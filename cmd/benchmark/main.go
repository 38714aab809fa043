package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"docrag/config"
	"docrag/internal/adapter/embedding"
	"docrag/internal/adapter/llm"
	"docrag/internal/adapter/retriever"
	"docrag/internal/engine"
	"docrag/internal/eval"
	"docrag/internal/logging"
	"docrag/internal/port"
)

func main() {
	dir := flag.String("dir", ".", "Directory holding the index and rag.yaml")
	casesPath := flag.String("cases", "", "JSONL file of {\"query\", \"relevant\"} cases (default: chunk summaries as queries)")
	topK := flag.Int("k", 5, "Number of results per query")
	rerank := flag.Bool("rerank", false, "Also evaluate with LLM reranking")
	flag.Parse()

	_ = godotenv.Load()

	if err := run(*dir, *casesPath, *topK, *rerank); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(dir, casesPath string, k int, rerank bool) error {
	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Logging.Level = "warn"
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	eng, err := engine.Load(engine.OptionsFromConfig(cfg, dir), logger, nil)
	if err != nil {
		return fmt.Errorf("opening index (run 'rag index' first): %w", err)
	}

	cases, err := loadCases(eng, casesPath)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		return errors.New("no benchmark cases: chunks have no summaries and no -cases file was given")
	}

	embedder, err := embedding.NewFromConfig(cfg.Embedding, logger, nil)
	if err != nil {
		return fmt.Errorf("embedder init failed: %w", err)
	}

	info := eng.Info()
	fmt.Println("RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Chunks indexed: %d\n", info.Count)
	fmt.Printf("Backend:        %s\n", info.Backend)
	fmt.Printf("Model:          %s (%s)\n", cfg.Embedding.Model, cfg.Embedding.Provider)
	fmt.Printf("Dimension:      %d\n", info.Dimension)
	fmt.Printf("Cases:          %d (k=%d)\n", len(cases), k)
	fmt.Println()

	ctx := context.Background()
	var semantic port.Retriever = retriever.NewSemanticRetriever(eng, embedder)
	printReport("semantic", eval.Run(ctx, semantic, cases, k))

	if rerank {
		judge, err := llm.NewFromConfig(cfg.Judge)
		if err != nil {
			return fmt.Errorf("judge init failed: %w", err)
		}
		rr := retriever.NewLLMReranker(judge, cfg.Rerank.TopN, cfg.Rerank.Threshold, logger)
		reranked := retriever.NewRerankedRetriever(semantic, rr, logger, nil)
		printReport("reranked", eval.Run(ctx, reranked, cases, k))
	}
	return nil
}

func loadCases(eng *engine.Engine, path string) ([]eval.Case, error) {
	if path == "" {
		return eval.SelfCases(eng.Records()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening cases: %w", err)
	}
	defer f.Close()
	cases, err := eval.ReadCases(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return cases, nil
}

func printReport(name string, rep eval.Report) {
	fmt.Printf("%s\n", strings.ToUpper(name))
	fmt.Println(strings.Repeat("-", 70))
	fmt.Printf("  Precision@k:  %.3f\n", rep.Precision)
	fmt.Printf("  Recall@k:     %.3f\n", rep.Recall)
	fmt.Printf("  MRR:          %.3f\n", rep.MRR)
	fmt.Printf("  nDCG@k:       %.3f\n", rep.NDCG)
	fmt.Printf("  Latency p50:  %s\n", rep.LatencyP50)
	fmt.Printf("  Latency p95:  %s\n", rep.LatencyP95)
	if rep.Failed > 0 {
		fmt.Printf("  Failed:       %d/%d\n", rep.Failed, rep.Queries)
	}

	switch {
	case rep.Recall > 0.8:
		fmt.Println("  Status: GOOD - relevant chunks are found")
	case rep.Recall > 0.5:
		fmt.Println("  Status: OK - some relevant chunks are missed")
	default:
		fmt.Println("  Status: POOR - may need better summaries, embeddings or re-indexing")
	}
	fmt.Println()
}
