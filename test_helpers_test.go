package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-identity-verifier/biometric"
	"go-identity-verifier/capture"
	"go-identity-verifier/document"
	"go-identity-verifier/images"
	"go-identity-verifier/metrics"
	"go-identity-verifier/verification"
)

const testBaseURL = "http://localhost:8081"

var testConfig = ServerConfig{
	Host:           "localhost",
	Port:           8081,
	UseTls:         false,
	TlsCertPath:    "",
	TlsPrivKeyPath: "",
}

var testClaim = document.Claim{
	FirstName: "Alice",
	LastName:  "Jansen",
	Age:       "34",
	IDNumber:  "12345",
	Email:     "alice@example.com",
	Password:  "hunter22",
}

type testEnv struct {
	sessions *verification.Service
	storage  *InMemorySnapshotStorage
	face     *fakeFaceEngine
}

func startTestServer(t *testing.T, cfg verification.Config) *testEnv {
	t.Helper()

	env, testState := newTestState(t, cfg)
	srv, err := NewServer(testState, testConfig)
	require.NoError(t, err)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("server error: %v", err)
		}
	}()

	waitUntilHealthy(t, testBaseURL+"/api/health")
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Logf("error shutting down server: %v", err)
		}
	})
	return env
}

// newTestState wires a session service against fakes without starting a listener.
func newTestState(t *testing.T, cfg verification.Config) (*testEnv, *ServerState) {
	t.Helper()

	face := &fakeFaceEngine{distance: 0.1}
	storage := NewInMemorySnapshotStorage()
	pipeline := verification.Pipeline{
		Normalizer: images.NewNormalizer(0, 0),
		Verifier:   document.NewVerifier(fakeTextRecognizer{text: "IDENTITY CARD Alice Jansen 34 12345"}),
		Extractor:  biometric.NewExtractor(face),
		Attester:   fakeAttester{},
		Store:      storage,
		Recorder:   metrics.New(),
	}
	newDevice := func(string) capture.Device { return capture.NewRemoteDevice() }
	sessions := verification.NewService(cfg, pipeline, []verification.Loader{face}, newDevice, capture.DefaultConstraints())

	testState := &ServerState{
		sessions: sessions,
		metrics:  metrics.New().Handler(),
		health:   map[string]HealthChecker{"face_engine": face},
	}
	t.Cleanup(func() { sessions.Shutdown(context.Background()) })

	return &testEnv{sessions: sessions, storage: storage, face: face}, testState
}

func fastSessionConfig() verification.Config {
	cfg := verification.DefaultConfig()
	cfg.TickInterval = 2 * time.Millisecond
	cfg.TimeoutGrace = 5 * time.Second
	return cfg
}

func waitUntilHealthy(t *testing.T, url string) {
	t.Helper()
	const maxAttempts = 50
	for i := 0; i < maxAttempts; i++ {
		if resp, err := http.Get(url); err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server did not start in time")
}

func doJSON[T any](t *testing.T, method, url string, payload any) (*http.Response, []byte, *T) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(b)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var v T
	_ = json.Unmarshal(respBody, &v)

	return resp, respBody, &v
}

func postJSON[T any](t *testing.T, url string, payload any) (*http.Response, []byte, *T) {
	t.Helper()
	return doJSON[T](t, http.MethodPost, url, payload)
}

func mustStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	require.Equalf(t, want, resp.StatusCode, "body: %s", body)
}

func sessionURL(id string, parts ...string) string {
	url := testBaseURL + "/api/sessions/" + id
	for _, p := range parts {
		url += "/" + p
	}
	return url
}

// createSession starts a session and waits until its models are loaded.
func createSession(t *testing.T) string {
	t.Helper()
	resp, body, created := postJSON[CreateSessionResponse](t, testBaseURL+"/api/sessions", nil)
	mustStatus(t, resp, http.StatusCreated, body)
	require.NotEmpty(t, created.SessionID)

	waitForSnapshot(t, created.SessionID, func(s verification.Snapshot) bool { return s.ModelsLoaded })
	return created.SessionID
}

func getSnapshot(t *testing.T, id string) (*http.Response, verification.Snapshot) {
	t.Helper()
	resp, _, snap := doJSON[verification.Snapshot](t, http.MethodGet, sessionURL(id), nil)
	return resp, *snap
}

func waitForSnapshot(t *testing.T, id string, cond func(verification.Snapshot) bool) verification.Snapshot {
	t.Helper()
	var last verification.Snapshot
	require.Eventually(t, func() bool {
		resp, snap := getSnapshot(t, id)
		last = snap
		return resp.StatusCode == http.StatusOK && cond(snap)
	}, 3*time.Second, 5*time.Millisecond, "last snapshot: %+v", last)
	return last
}

func encodedPNG(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// verifyDocument drives a session to an open capture loop.
func verifyDocument(t *testing.T, id string) {
	t.Helper()

	resp, body, _ := doJSON[verification.Snapshot](t, http.MethodPut, sessionURL(id, "claim"), testClaim)
	mustStatus(t, resp, http.StatusOK, body)

	resp, body, _ = postJSON[verification.Snapshot](t, sessionURL(id, "document"), DocumentRequest{Image: encodedPNG(t, 64, 40)})
	mustStatus(t, resp, http.StatusOK, body)

	resp, body, _ = postJSON[verification.Snapshot](t, sessionURL(id, "verify"), nil)
	mustStatus(t, resp, http.StatusOK, body)

	waitForSnapshot(t, id, func(s verification.Snapshot) bool { return s.State == verification.StateCaptureActive })
}

// test doubles

type fakeFaceEngine struct {
	mu        sync.Mutex
	distance  float32
	healthErr error
}

func (f *fakeFaceEngine) setHealthErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthErr = err
}

func (f *fakeFaceEngine) HealthCheck(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeFaceEngine) setDistance(d float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.distance = d
}

func (f *fakeFaceEngine) Load(context.Context) error { return nil }

func (f *fakeFaceEngine) Loaded(kind biometric.DetectorKind) bool {
	return kind == biometric.DetectorTiny
}

func (f *fakeFaceEngine) Detect(_ context.Context, _ *images.Normalized, cfg biometric.DetectorConfig) (*biometric.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var t biometric.Template
	if cfg == biometric.LiveDetector {
		t[0] = f.distance
	}
	return &biometric.Detection{Descriptor: t, Confidence: 0.9}, nil
}

type fakeTextRecognizer struct{ text string }

func (f fakeTextRecognizer) Recognize(context.Context, []byte) (string, error) {
	return f.text, nil
}

type fakeAttester struct{}

func (fakeAttester) Attest(_ context.Context, claim document.Claim, _ float64) (string, error) {
	return "test-jwt-" + claim.IDNumber, nil
}
