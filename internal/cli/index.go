package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"docrag/internal/adapter/embedding"
	"docrag/internal/adapter/fs"
	"docrag/internal/domain"
	"docrag/internal/engine"
	"docrag/internal/usecase"
)

var indexQuiet bool

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Embed and index chunk files",
	Long: `Read pre-chunked JSONL files ({"text", "summary", "source"} per line),
embed chunk texts and summaries, and persist a new index generation.
The index is stored under <index.dir>/<index.collection> in the root directory.

Examples:
  rag index .                    # Index every *.jsonl under the current directory
  rag index ./chunks/docs.jsonl  # Index a single chunk file`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&indexQuiet, "quiet", false, "disable the progress bar")
}

func runIndex(cmd *cobra.Command, args []string) error {
	path := GetRootDir()
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}

	cfg := GetConfig()
	if err := cfg.EnsureIndexDir(GetRootDir()); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	embedder, err := embedding.NewFromConfig(cfg.Embedding, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	eng, err := engine.New(engine.OptionsFromConfig(cfg, GetRootDir()), embedder, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	walker := fs.NewWalker(cfg.Index.Includes, cfg.Index.Excludes)

	var sink *barSink
	if !indexQuiet {
		sink = newBarSink()
	}
	indexUC := usecase.NewIndexUseCase(walker, embedder, eng, sink, logger)

	fmt.Printf("Scanning %s...\n", path)
	fmt.Printf("Embedding: provider=%s, model=%s, dimension=%d\n", cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Embedding.Dimension)

	result, err := indexUC.Index(cmd.Context(), path)
	sink.finish()
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	fmt.Printf("\nIndexing complete:\n")
	fmt.Printf("  Files read:        %d\n", result.FilesRead)
	fmt.Printf("  Chunks read:       %d\n", result.ChunksRead)
	fmt.Printf("  Chunks indexed:    %d\n", result.Accepted)
	if n := result.SkippedTotal(); n > 0 {
		fmt.Printf("  Chunks skipped:    %d\n", n)
		for reason, count := range result.Skipped {
			fmt.Printf("    %-16s %d\n", reason+":", count)
		}
	}
	if result.SummaryFallbacks > 0 {
		fmt.Printf("  Summary fallbacks: %d\n", result.SummaryFallbacks)
	}
	fmt.Printf("  Duration:          %s\n", formatDuration(result.Duration))

	fmt.Printf("\nIndex stored at: %s\n", result.Path)
	return nil
}

// barSink renders indexing progress events as a progress bar, restarting
// the bar whenever the stage changes.
type barSink struct {
	mu        sync.Mutex
	bar       *progressbar.ProgressBar
	stage     string
	startTime time.Time
}

func newBarSink() *barSink {
	return &barSink{}
}

func (s *barSink) Report(e domain.ProgressEvent) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Status != domain.StatusProgress || e.Total <= 0 {
		return
	}

	if s.bar == nil || e.Stage != s.stage {
		if s.bar != nil {
			_ = s.bar.Finish()
		}
		s.stage = e.Stage
		s.startTime = time.Now()
		s.bar = progressbar.NewOptions(e.Total,
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%-8s[reset]", e.Stage)),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		)
	}

	_ = s.bar.Set(e.Current)

	if e.Current > 0 && e.Current < e.Total {
		elapsed := time.Since(s.startTime)
		rate := float64(e.Current) / elapsed.Seconds()
		if rate > 0 {
			eta := time.Duration(float64(e.Total-e.Current)/rate) * time.Second
			s.bar.Describe(fmt.Sprintf("[cyan]%-8s[reset] ETA: %s", e.Stage, formatDuration(eta)))
		}
	}
}

func (s *barSink) finish() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bar != nil {
		_ = s.bar.Finish()
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
