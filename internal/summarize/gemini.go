package summarize

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const summaryPrompt = `Condense the following document into a passage suitable for being read aloud.

Requirements:
- Plain prose only: no markdown, no headings, no bullet points
- Keep the original language of the document
- Preserve the order of the main points
- Stay under %d characters

Document:
---
%s
---`

// Gemini implements the summarization capability against the Gemini API.
type Gemini struct {
	apiKey string
	model  string
}

// NewGemini configures the capability. The underlying client is created per
// call.
func NewGemini(apiKey, model string) *Gemini {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{apiKey: apiKey, model: model}
}

// Summarize sends the document text to the model and returns the condensed passage.
func (g *Gemini) Summarize(ctx context.Context, text string, maxLen int) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}

	prompt := fmt.Sprintf(summaryPrompt, maxLen, text)
	result, err := client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response from model")
	}
	var out strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.WriteString(part.Text)
		}
	}
	summary := strings.TrimSpace(out.String())
	if summary == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return summary, nil
}
