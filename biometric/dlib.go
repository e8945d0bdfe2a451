//go:build dlib

package biometric

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Kagami/go-face"

	"go-identity-verifier/images"
)

// cnnModelFile enables the heavier CNN detector when present in the model directory.
const cnnModelFile = "mmod_human_face_detector.dat"

// DlibEngine runs dlib models in-process through go-face. The HOG detector
// serves as the tiny detector and the CNN detector as the fallback.
type DlibEngine struct {
	modelDir string

	mu     sync.Mutex
	rec    *face.Recognizer
	hasCNN bool
}

func NewDlibEngine(modelDir string) *DlibEngine {
	return &DlibEngine{modelDir: modelDir}
}

func (e *DlibEngine) Load(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec != nil {
		return nil
	}

	slog.Info("Loading dlib face models", "model_dir", e.modelDir)
	rec, err := face.NewRecognizer(e.modelDir)
	if err != nil {
		return fmt.Errorf("failed to load dlib models: %w", err)
	}

	e.rec = rec
	_, err = os.Stat(filepath.Join(e.modelDir, cnnModelFile))
	e.hasCNN = err == nil
	return nil
}

func (e *DlibEngine) Loaded(kind DetectorKind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch kind {
	case DetectorTiny:
		return e.rec != nil
	case DetectorSSD:
		return e.rec != nil && e.hasCNN
	default:
		return false
	}
}

// Detect recognizes faces in the JPEG and keeps the largest one.
func (e *DlibEngine) Detect(_ context.Context, img *images.Normalized, cfg DetectorConfig) (*Detection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec == nil {
		return nil, ErrModelsNotLoaded
	}

	var faces []face.Face
	var err error
	switch cfg.Kind {
	case DetectorSSD:
		if !e.hasCNN {
			return nil, ErrModelsNotLoaded
		}
		faces, err = e.rec.RecognizeCNN(img.JPEG)
	default:
		faces, err = e.rec.Recognize(img.JPEG)
	}
	if err != nil {
		return nil, fmt.Errorf("dlib recognition failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, nil
	}

	best := faces[0]
	for _, f := range faces[1:] {
		if f.Rectangle.Dx()*f.Rectangle.Dy() > best.Rectangle.Dx()*best.Rectangle.Dy() {
			best = f
		}
	}

	// go-face does not expose detector scores
	return &Detection{Descriptor: Template(best.Descriptor), Confidence: 1.0}, nil
}

func (e *DlibEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec != nil {
		e.rec.Close()
		e.rec = nil
	}
}
