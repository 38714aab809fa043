package usecase

import (
	"bytes"
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"docrag/internal/domain"
)

// NoContextFound replaces the context block when nothing passes the
// threshold, so prompts never carry an empty context section.
const NoContextFound = "No relevant context found."

const contextHeader = "Retrieved context:"

//go:embed templates/*.txt
var promptTemplates embed.FS

var answerTemplate = template.Must(template.ParseFS(promptTemplates, "templates/answer_prompt.txt"))

// FormatContext renders items scoring at least minScore as numbered
// blocks, in the given order.
func FormatContext(items []domain.ContextItem, minScore float64) string {
	var sb strings.Builder
	n := 0
	for _, item := range items {
		if item.Score < minScore {
			continue
		}
		n++
		if n == 1 {
			sb.WriteString(contextHeader)
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "### Context %d (source: %s, score: %.3f)\n", n, filepath.Base(item.Source), item.Score)
		if summary := strings.TrimSpace(item.Summary); summary != "" {
			fmt.Fprintf(&sb, "Summary: %s\n", summary)
		}
		sb.WriteString(strings.TrimSpace(item.Text))
		sb.WriteString("\n\n")
	}

	if n == 0 {
		return NoContextFound
	}
	return strings.TrimSpace(sb.String())
}

// BuildAnswerPrompt renders the question-answering prompt around a
// formatted context block.
func BuildAnswerPrompt(question, contextBlock string) (string, error) {
	data := struct {
		Question   string
		Context    string
		HasContext bool
	}{
		Question:   strings.TrimSpace(question),
		Context:    contextBlock,
		HasContext: contextBlock != "" && contextBlock != NoContextFound,
	}

	var buf bytes.Buffer
	if err := answerTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return buf.String(), nil
}
