package biometric

import (
	"context"
	"log/slog"

	"go-identity-verifier/images"
)

// Extractor turns normalized images into templates. Engine failures never
// escape: they are logged and reported as "no face found".
type Extractor struct {
	engine Engine
}

func NewExtractor(engine Engine) *Extractor {
	return &Extractor{engine: engine}
}

// ExtractDocument runs the lenient detector and falls back to the heavier one when it is loaded.
func (e *Extractor) ExtractDocument(ctx context.Context, img *images.Normalized) (Template, bool) {
	if t, ok := e.extract(ctx, img, DocumentDetector); ok {
		return t, true
	}

	if !e.engine.Loaded(FallbackDetector.Kind) {
		return Template{}, false
	}

	slog.Debug("Trying fallback detector on document image", "detector", FallbackDetector.Kind)
	return e.extract(ctx, img, FallbackDetector)
}

// ExtractLive runs the live-frame detector only; live sampling has to stay cheap.
func (e *Extractor) ExtractLive(ctx context.Context, img *images.Normalized) (Template, bool) {
	return e.extract(ctx, img, LiveDetector)
}

func (e *Extractor) extract(ctx context.Context, img *images.Normalized, cfg DetectorConfig) (Template, bool) {
	if img == nil || ctx.Err() != nil {
		return Template{}, false
	}

	detection, err := e.engine.Detect(ctx, img, cfg)
	if err != nil {
		slog.Warn("Face detection failed", "detector", cfg.Kind, "error", err)
		return Template{}, false
	}
	if detection == nil {
		slog.Debug("No face detected", "detector", cfg.Kind, "width", img.Width, "height", img.Height)
		return Template{}, false
	}

	slog.Debug("Face detected", "detector", cfg.Kind, "confidence", detection.Confidence)
	return detection.Descriptor, true
}
