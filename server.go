package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"go-identity-verifier/capture"
	"go-identity-verifier/document"
	"go-identity-verifier/images"
	"go-identity-verifier/verification"
)

const ErrorInternal = "error:internal"
const ERR_MARSHAL = "failed to marshal response message"
const ERR_INVALID_BODY = "invalid request body"
const ERR_INVALID_BASE64 = "invalid base64 image"
const ERR_INVALID_IMAGE = "invalid image"
const ERR_SESSION_NOT_FOUND = "session not found"
const ERR_REMOTE_CAPTURE_ONLY = "session does not accept pushed frames"
const ERR_BODY_TOO_LARGE = "request body too large"

const (
	DefaultMaxDocumentBytes int64 = 8 << 20
	DefaultMaxFrameBytes    int64 = 1 << 20
	maxSmallBodyBytes       int64 = 64 << 10
)

const healthCheckTimeout = 2 * time.Second

type ServerConfig struct {
	Host             string `json:"host" env:"HOST"`
	Port             int    `json:"port" env:"PORT"`
	UseTls           bool   `json:"use_tls,omitempty" env:"USE_TLS"`
	TlsPrivKeyPath   string `json:"tls_priv_key_path,omitempty" env:"TLS_PRIV_KEY_PATH"`
	TlsCertPath      string `json:"tls_cert_path,omitempty" env:"TLS_CERT_PATH"`
	StaticPath       string `json:"static_path,omitempty" env:"STATIC_PATH"`
	MaxDocumentBytes int64  `json:"max_document_bytes,omitempty" env:"MAX_DOCUMENT_BYTES"`
	MaxFrameBytes    int64  `json:"max_frame_bytes,omitempty" env:"MAX_FRAME_BYTES"`
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type ServerState struct {
	sessions *verification.Service
	metrics  http.Handler
	health   map[string]HealthChecker
}

type SpaHandler struct {
	staticPath string
	indexPath  string
}

type Server struct {
	server *http.Server
	config ServerConfig
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

// ServeHTTP inspects the URL path to locate a file within the static dir
// on the SPA handler. If a file is found, it will be served. If not, the
// file located at the index path on the SPA handler will be served.
// https://github.com/gorilla/mux?tab=readme-ov-file#serving-single-page-applications
func (h SpaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Join internally call path.Clean to prevent directory traversal
	path := filepath.Join(h.staticPath, r.URL.Path)
	fi, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && fi.IsDir()) {
		http.ServeFile(w, r, filepath.Join(h.staticPath, h.indexPath))
		return
	}

	if err != nil {
		slog.Error("Error stating file", "path", path, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.FileServer(http.Dir(h.staticPath)).ServeHTTP(w, r)
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	router := mux.NewRouter()

	if config.MaxDocumentBytes <= 0 {
		config.MaxDocumentBytes = DefaultMaxDocumentBytes
	}
	if config.MaxFrameBytes <= 0 {
		config.MaxFrameBytes = DefaultMaxFrameBytes
	}

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		handleHealth(state, w, r)
	}).Methods(http.MethodGet)
	if state.metrics != nil {
		router.Handle("/metrics", state.metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/sessions").Subrouter()
	api.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		handleCreateSession(state, w, r)
	}).Methods(http.MethodPost)
	api.HandleFunc("/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetSession(state, w, r)
	}).Methods(http.MethodGet)
	api.HandleFunc("/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleCloseSession(state, w, r)
	}).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/claim", limitBody(maxSmallBodyBytes, func(w http.ResponseWriter, r *http.Request) {
		handleUpdateClaim(state, w, r)
	})).Methods(http.MethodPut)
	api.HandleFunc("/{id}/document", limitBody(config.MaxDocumentBytes, func(w http.ResponseWriter, r *http.Request) {
		handleUploadDocument(state, w, r)
	})).Methods(http.MethodPost)
	api.HandleFunc("/{id}/verify", func(w http.ResponseWriter, r *http.Request) {
		dispatchAndRespond(state, w, r, verification.VerifyRequested{})
	}).Methods(http.MethodPost)
	api.HandleFunc("/{id}/frames", limitBody(config.MaxFrameBytes, func(w http.ResponseWriter, r *http.Request) {
		handlePushFrame(state, w, r)
	})).Methods(http.MethodPost)
	api.HandleFunc("/{id}/capture/error", limitBody(maxSmallBodyBytes, func(w http.ResponseWriter, r *http.Request) {
		handleCaptureError(state, w, r)
	})).Methods(http.MethodPost)
	api.HandleFunc("/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		dispatchAndRespond(state, w, r, verification.CaptureRequested{})
	}).Methods(http.MethodPost)
	api.HandleFunc("/{id}/retry", func(w http.ResponseWriter, r *http.Request) {
		dispatchAndRespond(state, w, r, verification.RetryRequested{})
	}).Methods(http.MethodPost)
	api.HandleFunc("/{id}/reset", func(w http.ResponseWriter, r *http.Request) {
		dispatchAndRespond(state, w, r, verification.ResetRequested{})
	}).Methods(http.MethodPost)

	slog.Debug("Registered all API routes")

	if config.StaticPath != "" {
		spa := SpaHandler{staticPath: config.StaticPath, indexPath: "index.html"}
		router.PathPrefix("/").Handler(spa)
	}

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	srv := &http.Server{
		Handler:      router,
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return &Server{
		server: srv,
		config: config,
	}, nil
}

type HealthResponse struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type DocumentRequest struct {
	Image string `json:"image"`
}

type FrameRequest struct {
	Frame string `json:"frame"`
}

type CaptureErrorRequest struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

type CaptureErrorResponse struct {
	Kind    capture.ErrorKind `json:"kind"`
	Message string            `json:"message"`
}

// handleHealth answers 503 when any backing service check fails.
func handleHealth(state *ServerState, w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := HealthResponse{OK: true}
	for name, checker := range state.health {
		if response.Checks == nil {
			response.Checks = make(map[string]string, len(state.health))
		}
		if err := checker.HealthCheck(ctx); err != nil {
			slog.Warn("Health check failed", "check", name, "error", err)
			response.OK = false
			response.Checks[name] = err.Error()
			continue
		}
		response.Checks[name] = "ok"
	}

	status := http.StatusOK
	if !response.OK {
		status = http.StatusServiceUnavailable
	}
	if err := writeJSON(w, status, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleCreateSession(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	sess := state.sessions.Create()
	if err := writeJSON(w, http.StatusCreated, CreateSessionResponse{SessionID: sess.ID()}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleGetSession(state *ServerState, w http.ResponseWriter, r *http.Request) {
	snap, err := state.sessions.Snapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithSessionErr(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, snap); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleCloseSession(state *ServerState, w http.ResponseWriter, r *http.Request) {
	if err := state.sessions.Close(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondWithSessionErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleUpdateClaim(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	var claim document.Claim
	if err := json.NewDecoder(r.Body).Decode(&claim); err != nil {
		respondWithBodyErr(w, "failed to decode claim", err)
		return
	}
	dispatchAndRespond(state, w, r, verification.ClaimUpdated{Claim: claim})
}

func handleUploadDocument(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	var request DocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithBodyErr(w, "failed to decode document request", err)
		return
	}
	data, err := base64.StdEncoding.DecodeString(request.Image)
	if err != nil || len(data) == 0 {
		respondWithErr(w, http.StatusBadRequest, ERR_INVALID_BASE64, "failed to decode document image", err)
		return
	}
	dispatchAndRespond(state, w, r, verification.DocumentUploaded{Image: data})
}

func handlePushFrame(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	device, ok := remoteDevice(state, w, r)
	if !ok {
		return
	}

	var request FrameRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithBodyErr(w, "failed to decode frame request", err)
		return
	}
	data, err := base64.StdEncoding.DecodeString(request.Frame)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, ERR_INVALID_BASE64, "failed to decode frame", err)
		return
	}
	frame, err := images.Decode(data)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, ERR_INVALID_IMAGE, "failed to decode frame", err)
		return
	}

	if err := device.Push(frame); err != nil {
		if errors.Is(err, capture.ErrNoStream) {
			respondWithErr(w, http.StatusConflict, "no capture stream open", "frame pushed without stream", err)
			return
		}
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to push frame", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func handleCaptureError(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	device, ok := remoteDevice(state, w, r)
	if !ok {
		return
	}

	var request CaptureErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithBodyErr(w, "failed to decode capture error", err)
		return
	}

	deviceErr := device.Fail(request.Reason, request.Detail)
	slog.Info("Client reported capture failure", "session_id", mux.Vars(r)["id"], "kind", deviceErr.Kind, "reason", request.Reason)

	response := CaptureErrorResponse{Kind: deviceErr.Kind, Message: deviceErr.Message()}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

// dispatchAndRespond applies ev to the session named in the path and writes the resulting snapshot.
func dispatchAndRespond(state *ServerState, w http.ResponseWriter, r *http.Request, ev verification.Event) {
	sess, err := state.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		respondWithSessionErr(w, err)
		return
	}

	snap, err := sess.Dispatch(r.Context(), ev)
	if err != nil {
		respondWithSessionErr(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, snap); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func remoteDevice(state *ServerState, w http.ResponseWriter, r *http.Request) (*capture.RemoteDevice, bool) {
	sess, err := state.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		respondWithSessionErr(w, err)
		return nil, false
	}
	device, ok := sess.Device().(*capture.RemoteDevice)
	if !ok {
		respondWithErr(w, http.StatusConflict, ERR_REMOTE_CAPTURE_ONLY, ERR_REMOTE_CAPTURE_ONLY, nil)
		return nil, false
	}
	return device, true
}

func respondWithSessionErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, verification.ErrSessionNotFound), errors.Is(err, verification.ErrSessionClosed):
		respondWithErr(w, http.StatusNotFound, ERR_SESSION_NOT_FOUND, ERR_SESSION_NOT_FOUND, err)
	case errors.Is(err, verification.ErrInvalidTransition), errors.Is(err, verification.ErrClaimLocked):
		respondWithErr(w, http.StatusConflict, err.Error(), "session refused request", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondWithErr(w, http.StatusServiceUnavailable, "request cancelled", "session request cancelled", err)
	default:
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "session request failed", err)
	}
}

// respondWithBodyErr maps request decoding failures, answering 413 when the body limit was hit.
func respondWithBodyErr(w http.ResponseWriter, logMsg string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondWithErr(w, http.StatusRequestEntityTooLarge, ERR_BODY_TOO_LARGE, logMsg, err)
		return
	}
	respondWithErr(w, http.StatusBadRequest, ERR_INVALID_BODY, logMsg, err)
}

func respondWithErr(w http.ResponseWriter, code int, responseBody string, logMsg string, e error) {
	if code >= http.StatusInternalServerError {
		slog.Error(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	} else {
		slog.Warn(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	}
	w.WriteHeader(code)
	if _, err := w.Write([]byte(responseBody)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

// helpers ------------

func limitBody(n int64, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, n)
		next(w, r)
	}
}

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
	return nil
}
