//go:build tesseract

package document

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// TesseractRecognizer runs Tesseract in-process. Clients are not safe for
// concurrent use, so each call gets its own.
type TesseractRecognizer struct {
	language string
}

func NewTesseractRecognizer(language string) *TesseractRecognizer {
	if language == "" {
		language = DefaultLanguage
	}
	return &TesseractRecognizer{language: language}
}

func (r *TesseractRecognizer) Recognize(ctx context.Context, jpeg []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(r.language); err != nil {
		return "", fmt.Errorf("failed to set tesseract language: %w", err)
	}
	if err := client.SetImageFromBytes(jpeg); err != nil {
		return "", fmt.Errorf("failed to load image into tesseract: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract recognition failed: %w", err)
	}
	return text, nil
}
