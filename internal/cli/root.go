package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docrag/config"
	"docrag/internal/logging"
	"docrag/internal/metrics"
)

var (
	cfgFile  string
	cfg      *config.Config
	rootDir  string
	logLevel string

	logger     *zap.Logger
	registry   *prometheus.Registry
	appMetrics *metrics.Metrics
)

var rootCmd = &cobra.Command{
	Use:   "rag",
	Short: "Semantic retrieval over pre-chunked documents",
	Long: `rag indexes pre-chunked documents into a two-level vector index
(summary vectors for candidates, detail vectors for the final score) and
retrieves the most relevant chunks for a natural-language query.

Example usage:
  rag index ./chunks                   # Embed and index chunk files
  rag query -q "how are keys stored"   # Search the index
  rag prompt -q "how are keys stored"  # Render an answer prompt with context
  rag serve                            # Serve search over HTTP`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		// A missing .env is fine; the environment may already be set.
		_ = godotenv.Load()

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		registry = prometheus.NewRegistry()
		appMetrics = metrics.New(registry)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./rag.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
