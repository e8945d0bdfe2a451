//go:build tesseract

package main

import "go-identity-verifier/document"

func newTesseractRecognizer(language string) (document.TextRecognizer, error) {
	return document.NewTesseractRecognizer(language), nil
}
