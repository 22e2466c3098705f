package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"docvoice/internal/audio"
)

// ErrUnsupportedLanguage is fatal: no voice exists for the requested language.
// It is never retried.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ErrSynthesisFailed is returned once the retry budget for a chunk is spent.
var ErrSynthesisFailed = errors.New("speech synthesis failed")

// Segment is the synthesized audio for exactly one text chunk. It lives only
// for the duration of the pipeline run.
type Segment struct {
	Audio    []byte // WAV
	Duration time.Duration
}

// Capability converts one chunk of text into one audio segment.
type Capability interface {
	Synthesize(ctx context.Context, text, lang string) (*Segment, error)
}

// HTTPSynthesizer talks to a speech synthesis backend over HTTP. The backend
// answers with a WAV body; a 422 marks the language as unsupported.
type HTTPSynthesizer struct {
	endpoint  string
	languages map[string]bool // optional allowlist
	client    *http.Client
	duration  func([]byte) (time.Duration, error)
}

// NewHTTPSynthesizer configures the client. languages may be empty, in which
// case the backend is the sole authority on supported codes.
func NewHTTPSynthesizer(endpoint string, languages []string) *HTTPSynthesizer {
	var allow map[string]bool
	if len(languages) > 0 {
		allow = make(map[string]bool, len(languages))
		for _, l := range languages {
			allow[l] = true
		}
	}
	return &HTTPSynthesizer{
		endpoint:  endpoint,
		languages: allow,
		client:    &http.Client{Timeout: 2 * time.Minute},
		duration:  audio.WAVDuration,
	}
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Synthesize posts the chunk and returns the decoded segment.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, lang string) (*Segment, error) {
	if lang == "" {
		return nil, ErrUnsupportedLanguage
	}
	if s.languages != nil && !s.languages[lang] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}

	body, err := json.Marshal(synthesizeRequest{Text: text, Language: lang})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("synthesis backend status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesis response: %w", err)
	}
	dur, err := s.duration(audio)
	if err != nil {
		return nil, fmt.Errorf("measure segment duration: %w", err)
	}
	return &Segment{Audio: audio, Duration: dur}, nil
}

// Retrying wraps a capability with the per-chunk retry policy. Transient
// failures get attempts tries; ErrUnsupportedLanguage short-circuits.
type Retrying struct {
	cap      Capability
	attempts int
}

// NewRetrying bounds each chunk to the given attempt count.
func NewRetrying(cap Capability, attempts int) *Retrying {
	if attempts <= 0 {
		attempts = 2
	}
	return &Retrying{cap: cap, attempts: attempts}
}

func (r *Retrying) Synthesize(ctx context.Context, text, lang string) (*Segment, error) {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		seg, err := r.cap.Synthesize(ctx, text, lang)
		if err == nil {
			return seg, nil
		}
		if errors.Is(err, ErrUnsupportedLanguage) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrSynthesisFailed, r.attempts, lastErr)
}
