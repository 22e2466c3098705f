package translate

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Capability is the opaque translation engine.
type Capability interface {
	Translate(ctx context.Context, text, lang string) (string, error)
}

// Outcome carries the translated text, or the input tagged as degraded when
// translation could not be performed.
type Outcome struct {
	Text     string
	Degraded bool
	Reason   string
}

// Translator applies per-call timeout policy around a capability and
// degrades to the untranslated text on failure.
type Translator struct {
	cap     Capability
	timeout time.Duration
}

// NewTranslator wraps the capability.
func NewTranslator(cap Capability, timeout time.Duration) *Translator {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Translator{cap: cap, timeout: timeout}
}

// Run translates text into lang. A failing or missing capability keeps the
// original text so the job can still complete.
func (t *Translator) Run(ctx context.Context, text, lang string) Outcome {
	if t == nil || t.cap == nil {
		return Outcome{Text: text, Degraded: true, Reason: "translator unavailable"}
	}

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	translated, err := t.cap.Translate(callCtx, text, lang)
	if err != nil {
		log.Printf("translate degraded, keeping source text: %v", err)
		return Outcome{Text: text, Degraded: true, Reason: err.Error()}
	}
	return Outcome{Text: translated}
}

const translatePrompt = `Translate the following text into the language with ISO 639-1 code "%s".
Return only the translated text, with no commentary and no formatting.

Text:
---
%s
---`

// Gemini implements the translation capability against the Gemini API.
type Gemini struct {
	apiKey string
	model  string
}

// NewGemini configures the capability.
func NewGemini(apiKey, model string) *Gemini {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{apiKey: apiKey, model: model}
}

// Translate renders the text in the target language.
func (g *Gemini) Translate(ctx context.Context, text, lang string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}

	prompt := fmt.Sprintf(translatePrompt, lang, text)
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
	translated := strings.TrimSpace(out.String())
	if translated == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return translated, nil
}
