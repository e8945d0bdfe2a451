package document

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultLanguage is the recognition language requested from text engines.
	DefaultLanguage = "eng"
	DefaultTimeout  = 30 * time.Second
)

// RemoteRecognizer calls a text recognition service over HTTP.
type RemoteRecognizer struct {
	baseURL    string
	language   string
	httpClient *http.Client
}

func NewRemoteRecognizer(baseURL, language string, timeout time.Duration) *RemoteRecognizer {
	if language == "" {
		language = DefaultLanguage
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RemoteRecognizer{
		baseURL:    baseURL,
		language:   language,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type recognizeRequest struct {
	Image string `json:"image"`
	Lang  string `json:"lang"`
}

type recognizeResponse struct {
	Text string `json:"text"`
}

func (c *RemoteRecognizer) Recognize(ctx context.Context, jpeg []byte) (string, error) {
	url := fmt.Sprintf("%s/api/recognize", c.baseURL)

	jsonData, err := json.Marshal(recognizeRequest{
		Image: base64.StdEncoding.EncodeToString(jpeg),
		Lang:  c.language,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal recognize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute recognize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("text recognition failed with status %d: %s", resp.StatusCode, string(body))
	}

	var recognized recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&recognized); err != nil {
		return "", fmt.Errorf("failed to decode recognize response: %w", err)
	}
	return recognized.Text, nil
}
