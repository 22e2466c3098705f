package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"docvoice/internal/audio"
	"docvoice/internal/chunk"
	"docvoice/internal/extract"
	"docvoice/internal/models"
	"docvoice/internal/summarize"
	"docvoice/internal/synth"
	"docvoice/internal/translate"
)

// Degradation markers recorded on the job when an optional stage fell back.
const (
	MarkerSummarizationDegraded = "SummarizationDegraded"
	MarkerTranslationDegraded   = "TranslationDegraded"
	MarkerTimestampFallback     = "TimestampFallback"
)

// Failure reason codes propagated into the job record.
const (
	ReasonDocumentUnreadable  = "DocumentUnreadable"
	ReasonExtractionEmpty     = "ExtractionEmpty"
	ReasonUnsupportedLanguage = "UnsupportedLanguage"
	ReasonSynthesisFailed     = "SynthesisFailed"
	ReasonAssemblyFailed      = "AssemblyFailed"
)

// StageError is a fatal pipeline failure attributed to a named stage. The
// Reason code is what gets stored on the failed job.
type StageError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Reason, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result is everything the worker persists for a succeeded job.
type Result struct {
	Text    string
	Chunks  []models.TextChunk
	Track   *audio.Track
	Markers []string
}

// DocumentOpener turns raw uploaded bytes into a readable document.
type DocumentOpener func(data []byte) (extract.Document, error)

// Pipeline runs the full document-to-audio conversion: extract, optionally
// condense and translate, split, synthesize each chunk, assemble.
type Pipeline struct {
	open       DocumentOpener
	extractor  *extract.Extractor
	summarizer *summarize.Summarizer
	translator *translate.Translator
	synth      synth.Capability
	assembler  *audio.Assembler
	chunkLimit int
}

func New(open DocumentOpener, extractor *extract.Extractor, summarizer *summarize.Summarizer,
	translator *translate.Translator, s synth.Capability, assembler *audio.Assembler, chunkLimit int) *Pipeline {
	if chunkLimit <= 0 {
		chunkLimit = 200
	}
	return &Pipeline{
		open:       open,
		extractor:  extractor,
		summarizer: summarizer,
		translator: translator,
		synth:      s,
		assembler:  assembler,
		chunkLimit: chunkLimit,
	}
}

// Run executes every stage for one job. Optional stage failures degrade and
// are reported through Result.Markers; fatal failures return a *StageError.
func (p *Pipeline) Run(ctx context.Context, job *models.Job, document []byte) (*Result, error) {
	doc, err := p.open(document)
	if err != nil {
		return nil, &StageError{Stage: "extract", Reason: ReasonDocumentUnreadable, Err: err}
	}
	defer doc.Close()

	text, err := p.extractor.Extract(ctx, doc)
	if err != nil {
		reason := ReasonDocumentUnreadable
		if errors.Is(err, extract.ErrExtractionEmpty) {
			reason = ReasonExtractionEmpty
		}
		return nil, &StageError{Stage: "extract", Reason: reason, Err: err}
	}
	log.Printf("job %s: extracted %d characters", job.ID, len(text))

	var markers []string

	if job.Summarize {
		outcome := p.summarizer.Run(ctx, text)
		if outcome.Degraded {
			markers = append(markers, MarkerSummarizationDegraded)
		}
		text = outcome.Text
	}

	if p.translator != nil && job.Language != "" {
		outcome := p.translator.Run(ctx, text, job.Language)
		if outcome.Degraded {
			markers = append(markers, MarkerTranslationDegraded)
		}
		text = outcome.Text
	}

	chunks := chunk.Split(text, p.chunkLimit)
	if len(chunks) == 0 {
		return nil, &StageError{Stage: "chunk", Reason: ReasonExtractionEmpty,
			Err: errors.New("no speakable text after processing")}
	}
	log.Printf("job %s: split into %d chunks", job.ID, len(chunks))

	segments := make([][]byte, len(chunks))
	for i, c := range chunks {
		seg, err := p.synth.Synthesize(ctx, c.Text, job.Language)
		if err != nil {
			reason := ReasonSynthesisFailed
			if errors.Is(err, synth.ErrUnsupportedLanguage) {
				reason = ReasonUnsupportedLanguage
			}
			return nil, &StageError{Stage: "synthesize", Reason: reason,
				Err: fmt.Errorf("chunk %d: %w", i, err)}
		}
		segments[i] = seg.Audio
	}

	track, err := p.assembler.Assemble(chunks, segments)
	if err != nil {
		return nil, &StageError{Stage: "assemble", Reason: ReasonAssemblyFailed, Err: err}
	}
	if track.Fallback {
		markers = append(markers, MarkerTimestampFallback)
	}
	log.Printf("job %s: assembled %s of audio across %d chunks", job.ID, track.Duration, len(chunks))

	return &Result{Text: text, Chunks: chunks, Track: track, Markers: markers}, nil
}
