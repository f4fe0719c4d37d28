package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const maxOutputTokens = 2000

// DefaultModels are tried in order; a rate-limited or missing model falls
// through to the next one.
var DefaultModels = []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

type Gemini struct {
	models   []string
	generate generateFunc
}

func NewGemini(ctx context.Context, apiKey string, models ...string) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if len(models) == 0 {
		models = DefaultModels
	}
	return &Gemini{models: models, generate: client.Models.GenerateContent}, nil
}

func (g *Gemini) GenerateMarkdown(ctx context.Context, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{MaxOutputTokens: maxOutputTokens}

	var lastErr error
	for _, model := range g.models {
		result, err := g.generate(ctx, model, genai.Text(prompt), config)
		if err != nil {
			if retryable(err) && ctx.Err() == nil {
				lastErr = err
				continue
			}
			return "", fmt.Errorf("gemini %s: %w", model, err)
		}
		if text := firstText(result); text != "" {
			return text, nil
		}
		lastErr = fmt.Errorf("gemini %s: empty response", model)
	}
	return "", fmt.Errorf("all gemini models failed: %w", lastErr)
}

func retryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "exhausted", "404", "not found"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func firstText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 {
		return ""
	}
	content := result.Candidates[0].Content
	if content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
