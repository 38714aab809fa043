package usecase

import (
	"context"
	"fmt"

	"docrag/internal/domain"
	"docrag/internal/port"
)

// Answer is a generated reply with the context it was grounded on.
type Answer struct {
	Question string                `json:"question"`
	Text     string                `json:"answer"`
	Prompt   string                `json:"-"`
	Sources  []domain.SearchResult `json:"sources"`
}

// AnswerUseCase retrieves context for a question and asks a generator.
type AnswerUseCase struct {
	retrieve  *RetrieveUseCase
	generator port.Generator
	topK      int
}

func NewAnswerUseCase(retrieve *RetrieveUseCase, generator port.Generator, topK int) *AnswerUseCase {
	return &AnswerUseCase{retrieve: retrieve, generator: generator, topK: topK}
}

// Prompt builds the answer prompt without calling the generator.
func (u *AnswerUseCase) Prompt(ctx context.Context, question string) (string, []domain.SearchResult, error) {
	block, sources, err := u.retrieve.Context(ctx, question, u.topK)
	if err != nil {
		return "", nil, err
	}
	prompt, err := BuildAnswerPrompt(question, block)
	if err != nil {
		return "", nil, err
	}
	return prompt, sources, nil
}

func (u *AnswerUseCase) Answer(ctx context.Context, question string) (*Answer, error) {
	prompt, sources, err := u.Prompt(ctx, question)
	if err != nil {
		return nil, err
	}

	text, err := u.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	return &Answer{
		Question: question,
		Text:     text,
		Prompt:   prompt,
		Sources:  sources,
	}, nil
}
