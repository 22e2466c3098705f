package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/ledongthuc/pdf"
)

// PDFDocument reads embedded text via ledongthuc/pdf and renders pages to
// PNG through pdftoppm when OCR needs an image.
type PDFDocument struct {
	reader       *pdf.Reader
	data         []byte
	renderBinary string
	tmpPath      string
}

// OpenPDF parses the document from memory.
func OpenPDF(data []byte, renderBinary string) (*PDFDocument, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	if renderBinary == "" {
		renderBinary = "pdftoppm"
	}
	return &PDFDocument{reader: reader, data: data, renderBinary: renderBinary}, nil
}

func (d *PDFDocument) PageCount() int {
	return d.reader.NumPage()
}

// PageText extracts the embedded text of one page. Pages are zero-indexed
// here; the underlying reader counts from 1.
func (d *PDFDocument) PageText(page int) (string, error) {
	p := d.reader.Page(page + 1)
	if p.V.IsNull() {
		return "", nil
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("page %d text: %w", page+1, err)
	}
	return text, nil
}

// PageImage renders the page to PNG at OCR-friendly resolution.
func (d *PDFDocument) PageImage(ctx context.Context, page int) ([]byte, error) {
	src, err := d.sourceFile()
	if err != nil {
		return nil, err
	}

	outDir, err := os.MkdirTemp("", "docvoice-render")
	if err != nil {
		return nil, fmt.Errorf("render tmp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	pageNum := strconv.Itoa(page + 1)
	prefix := filepath.Join(outDir, "page")
	cmd := exec.CommandContext(ctx, d.renderBinary,
		"-f", pageNum, "-l", pageNum, "-r", "300", "-png", src, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s: %w (%s)", d.renderBinary, err, bytes.TrimSpace(out))
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("read render dir: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s produced no output for page %s", d.renderBinary, pageNum)
	}
	return os.ReadFile(filepath.Join(outDir, entries[0].Name()))
}

// Close removes the scratch copy used for rendering.
func (d *PDFDocument) Close() error {
	if d.tmpPath == "" {
		return nil
	}
	err := os.Remove(d.tmpPath)
	d.tmpPath = ""
	return err
}

// sourceFile lazily writes the document to disk because pdftoppm reads paths.
func (d *PDFDocument) sourceFile() (string, error) {
	if d.tmpPath != "" {
		return d.tmpPath, nil
	}
	f, err := os.CreateTemp("", "docvoice-*.pdf")
	if err != nil {
		return "", fmt.Errorf("render scratch file: %w", err)
	}
	if _, err := f.Write(d.data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	d.tmpPath = f.Name()
	return d.tmpPath, nil
}
