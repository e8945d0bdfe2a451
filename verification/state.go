// Package verification runs identity verification sessions: document claim
// checks, document face extraction, and a bounded live face matching loop.
package verification

import (
	"errors"
	"time"
)

// State is the single source of truth for what a session renders and allows.
type State string

const (
	StateIdle              State = "idle"
	StateAwaitingClaim     State = "awaiting_claim"
	StateDocumentVerifying State = "document_verifying"
	StateDocumentRejected  State = "document_rejected"
	StateDocumentVerified  State = "document_verified"
	StateCaptureActive     State = "capture_active"
	StateMatching          State = "matching"
	StateVerified          State = "verified"
	StateMatchTimeout      State = "match_timeout"
	StateMatchExhausted    State = "match_exhausted"
)

// claimLocked reports whether claim fields are read-only in s.
func (s State) claimLocked() bool {
	switch s {
	case StateIdle, StateAwaitingClaim, StateDocumentRejected:
		return false
	default:
		return true
	}
}

// captureRunning reports whether a capture loop owns the device in s.
func (s State) captureRunning() bool {
	return s == StateCaptureActive || s == StateMatching
}

// Rejection explains why a document was rejected.
type Rejection string

const (
	RejectionMismatch   Rejection = "claim_mismatch"
	RejectionNoFace     Rejection = "no_face"
	RejectionUnreadable Rejection = "unreadable"
)

// Loading stage labels.
const (
	StageLoadingModels      = "Loading face detection models..."
	StageReadingText        = "Reading ID card text..."
	StageDetectingFace      = "Detecting face on ID card..."
	StageInitializingCamera = "Initializing camera..."
	StageComparingFaces     = "Comparing your face with ID..."
)

// User-facing messages.
const (
	MsgModelsLoading      = "Face recognition models are still loading. Please wait."
	MsgModelsFailed       = "Failed to load face recognition models. Please try again."
	MsgMissingFields      = "Please fill in all fields and upload an ID card."
	MsgMismatchPrefix     = "Information doesn't match ID card: "
	MsgNoFaceOnDocument   = "No face detected in the ID card. Please upload a clearer image with a visible face."
	MsgUnreadableDocument = "The ID card image could not be read. Please upload a different file."
	MsgCenterFace         = "Please position your face in the center of the camera."
	MsgFaceMismatch       = "Face verification failed. The face does not match the ID card."
	MsgVerified           = "Registered successfully!"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session closed")
	ErrInvalidTransition = errors.New("action not allowed in current state")
	ErrClaimLocked       = errors.New("claim is locked after document verification")
)

// Config bounds a session's capture loop.
type Config struct {
	MaxAttempts    int
	MatchThreshold float64
	TickInterval   time.Duration
	// ProcessEvery runs extraction on every n-th tick only.
	ProcessEvery int
	TimeoutGrace time.Duration
	SessionTTL   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    30,
		MatchThreshold: 0.5,
		TickInterval:   100 * time.Millisecond,
		ProcessEvery:   2,
		TimeoutGrace:   time.Second,
		SessionTTL:     30 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = def.MatchThreshold
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.ProcessEvery <= 0 {
		c.ProcessEvery = def.ProcessEvery
	}
	if c.TimeoutGrace < 0 {
		c.TimeoutGrace = 0
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = def.SessionTTL
	}
	return c
}

// CaptureTimeout is the wall-clock budget of one capture loop.
func (c Config) CaptureTimeout() time.Duration {
	return time.Duration(c.MaxAttempts)*c.TickInterval + c.TimeoutGrace
}
