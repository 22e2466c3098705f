package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// TesseractRecognizer shells out to the tesseract binary. The engine itself
// is an external capability; this adapter only moves bytes in and out.
type TesseractRecognizer struct {
	binary string
}

// NewTesseractRecognizer uses the given executable (default "tesseract").
func NewTesseractRecognizer(binary string) *TesseractRecognizer {
	if binary == "" {
		binary = "tesseract"
	}
	return &TesseractRecognizer{binary: binary}
}

// Recognize runs OCR over one rendered page image.
func (r *TesseractRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	f, err := os.CreateTemp("", "docvoice-ocr-*.png")
	if err != nil {
		return "", fmt.Errorf("ocr scratch file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(image); err != nil {
		f.Close()
		return "", fmt.Errorf("write ocr input: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, f.Name(), "stdout")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w (%s)", r.binary, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.String(), nil
}
