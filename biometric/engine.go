package biometric

import (
	"context"
	"errors"

	"go-identity-verifier/images"
)

// DetectorKind names a face detector network the engine can run.
type DetectorKind string

const (
	// DetectorTiny is the fast detector used first for every image.
	DetectorTiny DetectorKind = "tiny"
	// DetectorSSD is the heavier detector, only tried on documents.
	DetectorSSD DetectorKind = "ssd"
)

// DetectorConfig is passed to the engine on every detection call.
type DetectorConfig struct {
	Kind           DetectorKind `json:"detector"`
	InputSize      int          `json:"input_size,omitempty"`
	ScoreThreshold float64      `json:"score_threshold,omitempty"`
}

var (
	// DocumentDetector is lenient so small ID card portraits are still found.
	DocumentDetector = DetectorConfig{Kind: DetectorTiny, InputSize: 160, ScoreThreshold: 0.1}
	LiveDetector     = DetectorConfig{Kind: DetectorTiny, InputSize: 160, ScoreThreshold: 0.3}
	FallbackDetector = DetectorConfig{Kind: DetectorSSD}
)

// ErrModelsNotLoaded is returned by engines asked to detect before Load completed.
var ErrModelsNotLoaded = errors.New("face recognition models not loaded")

// Detection is the single best-scoring face of an image.
type Detection struct {
	Descriptor Template
	Confidence float64
}

// Engine is a facial recognition provider.
//
// Detect returns (nil, nil) when the image contains no face; errors are reserved
// for engine failures.
type Engine interface {
	Load(ctx context.Context) error
	Loaded(kind DetectorKind) bool
	Detect(ctx context.Context, img *images.Normalized, cfg DetectorConfig) (*Detection, error)
}
