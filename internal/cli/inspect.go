package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docrag/internal/adapter/embedding"
	"docrag/internal/adapter/retriever"
	"docrag/internal/engine"
)

var (
	inspectJSON   bool
	inspectQuery  string
	inspectCoarse int
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show information about the persisted index",
	Long: `Print the manifest of the current index generation.

--json dumps all chunk metadata with its external ids. --coarse N with -q
shows the N nearest summary-index candidates and their distance-derived
cosine, which is what candidate selection sees before detail rescoring.

Examples:
  rag inspect
  rag inspect --json > chunks.json
  rag inspect -q "bucket layout" --coarse 10`,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "dump chunk metadata as JSON")
	inspectCmd.Flags().StringVarP(&inspectQuery, "query", "q", "", "query for --coarse diagnostics")
	inspectCmd.Flags().IntVar(&inspectCoarse, "coarse", 0, "show this many raw summary-index candidates for -q")
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	eng, err := openEngine(cfg, GetRootDir(), logger, appMetrics)
	if err != nil {
		return err
	}

	if inspectJSON {
		return eng.ExportJSON(os.Stdout)
	}

	info := eng.Info()
	fmt.Println("Index:")
	fmt.Printf("  Location:        %s\n", cfg.IndexRoot(GetRootDir()))
	fmt.Printf("  Generation:      %s\n", info.Generation)
	fmt.Printf("  Chunks:          %d\n", info.Count)
	fmt.Printf("  Dimension:       %d\n", info.Dimension)
	fmt.Printf("  Backend:         %s\n", info.Backend)
	fmt.Printf("  Embedding model: %s\n", info.EmbeddingModel)
	fmt.Printf("  Created:         %s\n", info.CreatedAt.Local().Format("2006-01-02 15:04:05"))

	if inspectCoarse <= 0 || inspectQuery == "" {
		return nil
	}
	return printCoarse(cmd, eng)
}

func printCoarse(cmd *cobra.Command, eng *engine.Engine) error {
	embedder, err := embedding.NewFromConfig(GetConfig().Embedding, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	vec := embedder.EmbedOne(cmd.Context(), inspectQuery)
	if vec == nil {
		return retriever.ErrQueryEmbedding
	}

	results, err := eng.Coarse(vec, inspectCoarse)
	if err != nil {
		return fmt.Errorf("coarse search failed: %w", err)
	}

	fmt.Printf("\nCoarse candidates for: %s\n", inspectQuery)
	for i, r := range results {
		summary := r.Record.Summary
		if summary == "" {
			summary = "(no summary)"
		}
		fmt.Printf("  %2d. %-24s cos=%.3f  %s\n", i+1, r.ID, r.Score, summary)
	}
	return nil
}
