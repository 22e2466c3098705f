package summarize

import (
	"context"
	"log"
	"time"
)

// Capability is the opaque summarization engine the pipeline consumes.
type Capability interface {
	Summarize(ctx context.Context, text string, maxLen int) (string, error)
}

// Outcome carries either the condensed passage or the original text tagged
// as degraded. A summarization failure never fails the job.
type Outcome struct {
	Text     string
	Degraded bool
	Reason   string
}

// Summarizer enforces the model's input budget and degrades gracefully on
// failure or timeout.
type Summarizer struct {
	cap         Capability
	inputBudget int
	maxLen      int
	timeout     time.Duration
}

// NewSummarizer wraps the capability with budget and timeout policy.
func NewSummarizer(cap Capability, inputBudget, maxLen int, timeout time.Duration) *Summarizer {
	if inputBudget <= 0 {
		inputBudget = 10000
	}
	if maxLen <= 0 {
		maxLen = 1500
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Summarizer{cap: cap, inputBudget: inputBudget, maxLen: maxLen, timeout: timeout}
}

// Run condenses text, falling back to the untouched input when the capability
// is unavailable, errors, or times out.
func (s *Summarizer) Run(ctx context.Context, text string) Outcome {
	if s == nil || s.cap == nil {
		return Outcome{Text: text, Degraded: true, Reason: "summarizer unavailable"}
	}

	input := text
	if runes := []rune(input); len(runes) > s.inputBudget {
		// Long documents are truncated to the model budget rather than split;
		// the summary only needs the leading material to stay faithful.
		input = string(runes[:s.inputBudget])
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	summary, err := s.cap.Summarize(callCtx, input, s.maxLen)
	if err != nil {
		log.Printf("summarize degraded, keeping full text: %v", err)
		return Outcome{Text: text, Degraded: true, Reason: err.Error()}
	}
	return Outcome{Text: summary}
}
