package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"docrag/internal/domain"
	"docrag/internal/usecase"
)

var (
	queryText   string
	queryTopK   int
	queryJSON   bool
	queryAll    bool
	queryRerank bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search the index",
	Long: `Search for the chunks most relevant to a natural-language query.
Candidates come from summary vectors and are scored against detail vectors;
--rerank additionally asks the judge model to reorder the top results.

Examples:
  rag query -q "how are keys stored"
  rag query -q "bucket layout" --top-k 5 --rerank --json`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryAll, "all", false, "include results below retrieve.min_score_threshold")
	queryCmd.Flags().BoolVar(&queryRerank, "rerank", false, "rerank results with the judge model (default from config)")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	eng, err := openEngine(cfg, GetRootDir(), logger, appMetrics)
	if err != nil {
		return err
	}

	rerank := cfg.Rerank.Enabled || queryRerank
	stack, err := newRetrievalStack(cfg, rerank, logger, appMetrics)
	if err != nil {
		return err
	}
	retrieveUC := usecase.NewRetrieveUseCase(stack.retrieverFor(cfg, eng, rerank, logger, appMetrics), cfg.Retrieve.MinScoreThreshold)

	topK := cfg.Retrieve.TopK
	if queryTopK > 0 {
		topK = queryTopK
	}

	var results []domain.SearchResult
	if queryAll {
		results, err = retrieveUC.RetrieveAll(cmd.Context(), queryText, topK)
	} else {
		results, err = retrieveUC.Retrieve(cmd.Context(), queryText, topK)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if queryJSON {
		output, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", len(results), queryText)
	for i, r := range results {
		fmt.Printf("--- [%d] %s %s (score: %.3f) ---\n", i+1, r.ID, filepath.Base(r.Record.Source), r.Score)
		if r.Record.Summary != "" {
			fmt.Printf("Summary: %s\n", r.Record.Summary)
		}
		// Truncate long text for display
		text := r.Record.Text
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		fmt.Println(text)
		fmt.Println()
	}
	return nil
}
