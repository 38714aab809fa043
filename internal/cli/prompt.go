package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"docrag/internal/adapter/llm"
	"docrag/internal/usecase"
)

var (
	promptQuery  string
	promptTopK   int
	promptAnswer bool
	promptRerank bool
	promptJSON   bool
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Render an answer prompt with retrieved context",
	Long: `Retrieve context for a question and render the question-answering
prompt a language model would receive. Chunks below
retrieve.min_score_threshold are left out of the context block.

With --answer the prompt is sent to the judge model and its reply printed.

Examples:
  rag prompt -q "How are keys stored?"
  rag prompt -q "How are keys stored?" --answer --json`,
	RunE: runPrompt,
}

func init() {
	rootCmd.AddCommand(promptCmd)
	promptCmd.Flags().StringVarP(&promptQuery, "query", "q", "", "question to answer (required)")
	promptCmd.Flags().IntVarP(&promptTopK, "top-k", "k", 0, "number of chunks to retrieve (default from config)")
	promptCmd.Flags().BoolVar(&promptAnswer, "answer", false, "send the prompt to the model and print the answer")
	promptCmd.Flags().BoolVar(&promptRerank, "rerank", false, "rerank retrieved chunks with the judge model")
	promptCmd.Flags().BoolVar(&promptJSON, "json", false, "output as JSON")
	promptCmd.MarkFlagRequired("query")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	eng, err := openEngine(cfg, GetRootDir(), logger, appMetrics)
	if err != nil {
		return err
	}

	rerank := cfg.Rerank.Enabled || promptRerank
	stack, err := newRetrievalStack(cfg, rerank, logger, appMetrics)
	if err != nil {
		return err
	}
	retrieveUC := usecase.NewRetrieveUseCase(stack.retrieverFor(cfg, eng, rerank, logger, appMetrics), cfg.Retrieve.MinScoreThreshold)

	topK := cfg.Retrieve.TopK
	if promptTopK > 0 {
		topK = promptTopK
	}

	generator := stack.judge
	if promptAnswer && generator == nil {
		generator, err = llm.NewFromConfig(cfg.Judge)
		if err != nil {
			return fmt.Errorf("failed to create model: %w", err)
		}
	}
	answerUC := usecase.NewAnswerUseCase(retrieveUC, generator, topK)

	if !promptAnswer {
		prompt, sources, err := answerUC.Prompt(cmd.Context(), promptQuery)
		if err != nil {
			return fmt.Errorf("failed to build prompt: %w", err)
		}
		if promptJSON {
			return printJSON(usecase.Answer{Question: promptQuery, Sources: sources, Prompt: prompt}, prompt)
		}
		fmt.Println(prompt)
		return nil
	}

	answer, err := answerUC.Answer(cmd.Context(), promptQuery)
	if err != nil {
		return err
	}
	if promptJSON {
		return printJSON(*answer, "")
	}
	fmt.Println(answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range answer.Sources {
			fmt.Printf("  - %s (%s, score: %.3f)\n", s.ID, s.Record.Source, s.Score)
		}
	}
	return nil
}

// printJSON writes an answer as JSON. Prompt is excluded from the answer's
// own encoding, so it is added back explicitly when non-empty.
func printJSON(a usecase.Answer, prompt string) error {
	out := struct {
		usecase.Answer
		Prompt string `json:"prompt,omitempty"`
	}{Answer: a, Prompt: prompt}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
