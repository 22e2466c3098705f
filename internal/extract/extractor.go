package extract

import (
	"context"
	"errors"
	"log"
	"strings"
)

// ErrExtractionEmpty means no page yielded text on either path. Fatal to the job.
var ErrExtractionEmpty = errors.New("no text could be extracted from the document")

// Document is a page-addressable handle on an uploaded document.
type Document interface {
	PageCount() int
	// PageText returns the embedded plain text of a page.
	PageText(page int) (string, error)
	// PageImage renders the page for optical recognition.
	PageImage(ctx context.Context, page int) ([]byte, error)
	Close() error
}

// Recognizer is the optical recognition capability. Best effort; failures
// just leave the page empty.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Extractor produces page-ordered text, routing thin pages through OCR.
type Extractor struct {
	ocr      Recognizer
	minChars int
}

// NewExtractor builds an extractor. ocr may be nil, which disables the fallback.
func NewExtractor(ocr Recognizer, minChars int) *Extractor {
	if minChars <= 0 {
		minChars = 100
	}
	return &Extractor{ocr: ocr, minChars: minChars}
}

// Extract walks every page: embedded text first, OCR when a page comes back
// with less than the minimal-content threshold. Page-level errors are
// absorbed; a partial document still succeeds. Only a document with no
// recoverable text at all returns ErrExtractionEmpty.
func (e *Extractor) Extract(ctx context.Context, doc Document) (string, error) {
	pages := make([]string, 0, doc.PageCount())
	for i := 0; i < doc.PageCount(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := doc.PageText(i)
		if err != nil {
			log.Printf("extract: page %d text failed: %v", i+1, err)
			text = ""
		}
		text = strings.TrimSpace(text)

		if len([]rune(text)) < e.minChars && e.ocr != nil {
			if recovered := e.recognizePage(ctx, doc, i); recovered != "" {
				text = recovered
			}
		}
		pages = append(pages, text)
	}

	full := strings.TrimSpace(strings.Join(pages, "\n"))
	if full == "" {
		return "", ErrExtractionEmpty
	}
	return full, nil
}

func (e *Extractor) recognizePage(ctx context.Context, doc Document, page int) string {
	img, err := doc.PageImage(ctx, page)
	if err != nil {
		log.Printf("extract: page %d render failed: %v", page+1, err)
		return ""
	}
	text, err := e.ocr.Recognize(ctx, img)
	if err != nil {
		log.Printf("extract: page %d ocr failed: %v", page+1, err)
		return ""
	}
	return strings.TrimSpace(text)
}
