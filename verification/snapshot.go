package verification

import (
	"context"
	"maps"
	"slices"
	"time"

	"go-identity-verifier/biometric"
	"go-identity-verifier/capture"
	"go-identity-verifier/document"
)

// Snapshot is the observable view of a session. It never carries the document
// image, face templates or passwords.
type Snapshot struct {
	SessionID        string            `json:"session_id"`
	State            State             `json:"state"`
	Claim            document.Claim    `json:"claim"`
	ClaimLocked      bool              `json:"claim_locked"`
	DocumentUploaded bool              `json:"document_uploaded"`
	FieldResults     map[string]bool   `json:"field_results,omitempty"`
	FailedFields     []string          `json:"failed_fields,omitempty"`
	Rejection        Rejection         `json:"rejection,omitempty"`
	Distance         *float64          `json:"distance,omitempty"`
	Confidence       *float64          `json:"confidence,omitempty"`
	Attempts         int               `json:"attempts"`
	MaxAttempts      int               `json:"max_attempts"`
	LoadingStage     string            `json:"loading_stage,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	SuccessMessage   string            `json:"success_message,omitempty"`
	ModelsLoaded     bool              `json:"models_loaded"`
	CaptureStatus    capture.Status    `json:"capture_status"`
	DeviceError      capture.ErrorKind `json:"device_error,omitempty"`
	Attestation      string            `json:"attestation,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func (m machine) snapshot(id string, now time.Time) Snapshot {
	snap := Snapshot{
		SessionID:        id,
		State:            m.state,
		Claim:            m.claim.Public(),
		ClaimLocked:      m.state.claimLocked(),
		DocumentUploaded: len(m.document) > 0,
		FieldResults:     maps.Clone(m.fields),
		FailedFields:     slices.Clone(m.failed),
		Rejection:        m.rejection,
		Attempts:         m.attempts,
		MaxAttempts:      m.maxAttempts,
		LoadingStage:     m.stage,
		ErrorMessage:     m.errMsg,
		SuccessMessage:   m.successMsg,
		ModelsLoaded:     m.modelsLoaded,
		CaptureStatus:    m.captureStatus,
		DeviceError:      m.deviceError,
		Attestation:      m.attestation,
		UpdatedAt:        now,
	}
	if m.distance != nil {
		d := *m.distance
		conf := biometric.Confidence(d)
		snap.Distance = &d
		snap.Confidence = &conf
	}
	return snap
}

// SnapshotStore persists snapshots so any replica can answer for a session.
// Load returns nil without error when no snapshot exists.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
}

// Attester signs a statement about a verified identity.
type Attester interface {
	Attest(ctx context.Context, claim document.Claim, distance float64) (string, error)
}

// Recorder receives session outcomes for metrics.
type Recorder interface {
	SessionCreated()
	DocumentOutcome(outcome string)
	CaptureOutcome(outcome string)
	LiveExtraction(latency time.Duration)
	MatchDistance(distance float64)
}

// Outcome labels passed to Recorder.
const (
	OutcomeVerified    = "verified"
	OutcomeRejected    = "rejected"
	OutcomeNoFace      = "no_face"
	OutcomeUnreadable  = "unreadable"
	OutcomeTimeout     = "timeout"
	OutcomeExhausted   = "exhausted"
	OutcomeDeviceError = "device_error"
)

type nopRecorder struct{}

func (nopRecorder) SessionCreated()              {}
func (nopRecorder) DocumentOutcome(string)       {}
func (nopRecorder) CaptureOutcome(string)        {}
func (nopRecorder) LiveExtraction(time.Duration) {}
func (nopRecorder) MatchDistance(float64)        {}
