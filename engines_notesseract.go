//go:build !tesseract

package main

import (
	"fmt"

	"go-identity-verifier/document"
)

func newTesseractRecognizer(string) (document.TextRecognizer, error) {
	return nil, fmt.Errorf("tesseract text recognition not available: build with -tags tesseract")
}
