package verification

import (
	"time"

	"go-identity-verifier/biometric"
	"go-identity-verifier/capture"
	"go-identity-verifier/document"
)

// Event is something that happened to a session. Callers dispatch the exported
// events; the session posts the unexported ones from its own tasks.
type Event interface {
	eventName() string
}

// ModelsLoaded reports the end of the recognition engine bootstrap.
type ModelsLoaded struct {
	Err error
}

// ClaimUpdated replaces the claim entered on the form.
type ClaimUpdated struct {
	Claim document.Claim
}

// DocumentUploaded replaces the document image and invalidates derived results.
type DocumentUploaded struct {
	Image []byte
}

type VerifyRequested struct{}

// CaptureRequested retries opening the camera after a device error.
type CaptureRequested struct{}

// RetryRequested re-arms the capture loop after a timeout or exhaustion.
type RetryRequested struct{}

type ResetRequested struct{}

func (ModelsLoaded) eventName() string     { return "models_loaded" }
func (ClaimUpdated) eventName() string     { return "claim_updated" }
func (DocumentUploaded) eventName() string { return "document_uploaded" }
func (VerifyRequested) eventName() string  { return "verify_requested" }
func (CaptureRequested) eventName() string { return "capture_requested" }
func (RetryRequested) eventName() string   { return "retry_requested" }
func (ResetRequested) eventName() string   { return "reset_requested" }

// Internal events carry the document version or capture loop generation they
// belong to; the machine drops them once that generation is gone.

type stageProgress struct {
	version int
	stage   string
}

type documentChecked struct {
	version   int
	err       error
	result    document.Result
	template  biometric.Template
	faceFound bool
}

type captureProgress struct {
	loop   int
	status capture.Status
}

type captureReady struct {
	loop int
}

type captureFailed struct {
	loop int
	err  *capture.DeviceError
}

type tick struct {
	loop int
}

type extractionDone struct {
	loop      int
	frameErr  error
	template  biometric.Template
	faceFound bool
	latency   time.Duration
}

type timeoutFired struct {
	loop int
}

type attested struct {
	loop  int
	token string
	err   error
}

func (stageProgress) eventName() string   { return "stage_progress" }
func (documentChecked) eventName() string { return "document_checked" }
func (captureProgress) eventName() string { return "capture_progress" }
func (captureReady) eventName() string    { return "capture_ready" }
func (captureFailed) eventName() string   { return "capture_failed" }
func (tick) eventName() string            { return "tick" }
func (extractionDone) eventName() string  { return "extraction_done" }
func (timeoutFired) eventName() string    { return "timeout_fired" }
func (attested) eventName() string        { return "attested" }

// Effects are work the machine asks the session runtime to perform.
type effect interface {
	isEffect()
}

type effCheckDocument struct {
	version int
	image   []byte
	claim   document.Claim
}

type effCancelDocument struct{}

type effOpenCapture struct {
	loop int
}

type effArmTimeout struct {
	loop int
}

type effStartTicker struct {
	loop int
}

type effExtractLive struct {
	loop int
}

// effStopLoop cancels the ticker, the timeout and any in-flight extraction, and
// releases the capture device. These always happen together.
type effStopLoop struct{}

type effAttest struct {
	loop     int
	claim    document.Claim
	distance float64
}

func (effCheckDocument) isEffect()  {}
func (effCancelDocument) isEffect() {}
func (effOpenCapture) isEffect()    {}
func (effArmTimeout) isEffect()     {}
func (effStartTicker) isEffect()    {}
func (effExtractLive) isEffect()    {}
func (effStopLoop) isEffect()       {}
func (effAttest) isEffect()         {}

// Transition is one observable state change.
type Transition struct {
	From  State
	To    State
	Event string
}
