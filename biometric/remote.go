package biometric

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go-identity-verifier/images"
)

// DefaultTimeout bounds every call to the face service.
const DefaultTimeout = 30 * time.Second

// RemoteEngine implements Engine against a face service over HTTP.
type RemoteEngine struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.RWMutex
	loaded map[DetectorKind]bool
}

// NewRemoteEngine creates a new instance of RemoteEngine
func NewRemoteEngine(baseURL string, timeout time.Duration) *RemoteEngine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RemoteEngine{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		loaded: map[DetectorKind]bool{},
	}
}

type loadResponse struct {
	Loaded []DetectorKind `json:"loaded"`
}

type detectRequest struct {
	Image string `json:"image"`
	DetectorConfig
}

type detectResponse struct {
	Found      bool      `json:"found"`
	Descriptor []float32 `json:"descriptor"`
	Confidence float64   `json:"confidence"`
}

// Load asks the face service to load its detector, landmark and descriptor networks.
func (c *RemoteEngine) Load(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/models/load", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create model load request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute model load request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("model load failed with status %d: %s", resp.StatusCode, string(body))
	}

	var loaded loadResponse
	if err := json.NewDecoder(resp.Body).Decode(&loaded); err != nil {
		return fmt.Errorf("failed to decode model load response: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kind := range loaded.Loaded {
		c.loaded[kind] = true
	}
	if !c.loaded[DetectorTiny] {
		return fmt.Errorf("face service did not load the %s detector", DetectorTiny)
	}

	slog.Info("Face recognition models loaded", "detectors", loaded.Loaded)
	return nil
}

func (c *RemoteEngine) Loaded(kind DetectorKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded[kind]
}

// Detect sends the normalized JPEG to the face service and returns its top detection.
func (c *RemoteEngine) Detect(ctx context.Context, img *images.Normalized, cfg DetectorConfig) (*Detection, error) {
	if !c.Loaded(cfg.Kind) {
		return nil, ErrModelsNotLoaded
	}

	url := fmt.Sprintf("%s/api/detect", c.baseURL)

	jsonData, err := json.Marshal(detectRequest{
		Image:          base64.StdEncoding.EncodeToString(img.JPEG),
		DetectorConfig: cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face detection failed with status %d: %s", resp.StatusCode, string(body))
	}

	var detected detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&detected); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}

	if !detected.Found {
		return nil, nil
	}

	descriptor, err := TemplateFromSlice(detected.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("invalid descriptor from face service: %w", err)
	}

	return &Detection{Descriptor: descriptor, Confidence: detected.Confidence}, nil
}

// HealthCheck verifies the face service is available
func (c *RemoteEngine) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/healthz", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
