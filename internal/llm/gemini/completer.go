// Package gemini adapts the Google generative AI client to llm.Completer.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/sitesage/sitesage/internal/llm"
)

// Config tunes completion requests.
type Config struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// Completer generates answers via the Gemini API.
type Completer struct {
	client *genai.Client
	cfg    Config
}

var _ llm.Completer = (*Completer)(nil)

// New creates a Completer on a shared genai client.
func New(client *genai.Client, cfg Config) *Completer {
	return &Completer{client: client, cfg: cfg}
}

// Complete runs one generation and returns the concatenated text parts.
func (c *Completer) Complete(ctx context.Context, system, prompt string) (string, error) {
	model := c.client.GenerativeModel(c.cfg.Model)
	model.SetTemperature(c.cfg.Temperature)
	if c.cfg.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(c.cfg.MaxOutputTokens)
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("generate content: empty response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	answer := strings.TrimSpace(sb.String())
	if answer == "" {
		return "", fmt.Errorf("generate content: no text parts in response")
	}
	return answer, nil
}
