package verification

import (
	"errors"
	"fmt"
	"strings"

	"go-identity-verifier/biometric"
	"go-identity-verifier/capture"
	"go-identity-verifier/document"
)

// machine is the session state. It is a value: apply returns a new machine and
// never mutates the receiver, so a refused event leaves the session untouched.
type machine struct {
	maxAttempts  int
	processEvery int
	comparator   biometric.Comparator

	state        State
	modelsLoaded bool
	modelsFailed bool

	claim      document.Claim
	document   []byte
	docVersion int
	fields     map[string]bool
	failed     []string
	rejection  Rejection
	docFace    *biometric.Template

	loop          int
	attempts      int
	inFlight      bool
	captureStatus capture.Status
	deviceError   capture.ErrorKind
	distance      *float64
	attestation   string

	stage      string
	errMsg     string
	successMsg string
}

func newMachine(cfg Config) machine {
	cfg = cfg.withDefaults()
	return machine{
		maxAttempts:   cfg.MaxAttempts,
		processEvery:  cfg.ProcessEvery,
		comparator:    biometric.NewComparator(cfg.MatchThreshold),
		state:         StateIdle,
		captureStatus: capture.StatusWaiting,
		stage:         StageLoadingModels,
	}
}

// change accumulates the effects and transitions of one apply call.
type change struct {
	m           machine
	event       string
	effects     []effect
	transitions []Transition
}

func (c *change) enter(s State) {
	if c.m.state == s {
		return
	}
	c.transitions = append(c.transitions, Transition{From: c.m.state, To: s, Event: c.event})
	c.m.state = s
}

func (c *change) emit(e effect) {
	c.effects = append(c.effects, e)
}

// apply computes the machine's reaction to ev. Events from superseded document
// checks or capture loops are ignored without error.
func (m machine) apply(ev Event) (machine, []effect, []Transition, error) {
	c := &change{m: m, event: ev.eventName()}

	var err error
	switch e := ev.(type) {
	case ModelsLoaded:
		c.modelsLoaded(e)
	case ClaimUpdated:
		err = c.claimUpdated(e)
	case DocumentUploaded:
		err = c.documentUploaded(e)
	case VerifyRequested:
		err = c.verifyRequested()
	case CaptureRequested:
		err = c.captureRequested()
	case RetryRequested:
		err = c.retryRequested()
	case ResetRequested:
		c.reset()
	case stageProgress:
		if c.m.state == StateDocumentVerifying && e.version == c.m.docVersion {
			c.m.stage = e.stage
		}
	case documentChecked:
		c.documentChecked(e)
	case captureProgress:
		if c.currentLoop(e.loop) {
			c.m.captureStatus = e.status
		}
	case captureReady:
		c.captureReady(e)
	case captureFailed:
		if c.currentLoop(e.loop) {
			c.deviceLost(e.err)
		}
	case tick:
		c.tick(e)
	case extractionDone:
		c.extractionDone(e)
	case timeoutFired:
		c.timeoutFired(e)
	case attested:
		if e.loop == c.m.loop && c.m.state == StateVerified && e.err == nil {
			c.m.attestation = e.token
		}
	default:
		err = fmt.Errorf("unknown event %T", ev)
	}

	if err != nil {
		return m, nil, nil, err
	}
	return c.m, c.effects, c.transitions, nil
}

func (c *change) currentLoop(loop int) bool {
	return loop == c.m.loop && c.m.state.captureRunning()
}

func (c *change) modelsLoaded(e ModelsLoaded) {
	c.m.modelsLoaded = e.Err == nil
	c.m.modelsFailed = e.Err != nil
	if c.m.stage == StageLoadingModels {
		c.m.stage = ""
	}
	if e.Err != nil {
		c.m.errMsg = MsgModelsFailed
	}
}

func (c *change) claimUpdated(e ClaimUpdated) error {
	if c.m.state.claimLocked() {
		return ErrClaimLocked
	}
	c.m.claim = e.Claim
	c.enter(StateAwaitingClaim)
	return nil
}

func (c *change) documentUploaded(e DocumentUploaded) error {
	if c.m.state.claimLocked() {
		return ErrClaimLocked
	}
	c.m.document = e.Image
	c.m.docVersion++
	c.m.fields = nil
	c.m.failed = nil
	c.m.rejection = ""
	c.m.errMsg = ""
	c.enter(StateAwaitingClaim)
	return nil
}

func (c *change) verifyRequested() error {
	switch c.m.state {
	case StateIdle, StateAwaitingClaim, StateDocumentRejected:
	default:
		return fmt.Errorf("%w: verify in %s", ErrInvalidTransition, c.m.state)
	}

	if !c.m.modelsLoaded {
		if c.m.modelsFailed {
			c.m.errMsg = MsgModelsFailed
		} else {
			c.m.errMsg = MsgModelsLoading
		}
		return nil
	}
	if len(document.MissingFields(c.m.claim)) > 0 || len(c.m.document) == 0 {
		c.m.errMsg = MsgMissingFields
		return nil
	}

	c.m.errMsg = ""
	c.m.successMsg = ""
	c.m.fields = nil
	c.m.failed = nil
	c.m.rejection = ""
	c.m.distance = nil
	c.m.docFace = nil
	c.m.stage = StageReadingText
	c.enter(StateDocumentVerifying)
	c.emit(effCheckDocument{version: c.m.docVersion, image: c.m.document, claim: c.m.claim})
	return nil
}

func (c *change) documentChecked(e documentChecked) {
	if c.m.state != StateDocumentVerifying || e.version != c.m.docVersion {
		return
	}
	c.m.stage = ""

	switch {
	case e.err != nil:
		c.m.rejection = RejectionUnreadable
		c.m.errMsg = MsgUnreadableDocument
		c.enter(StateDocumentRejected)
	case !e.result.AllMatched:
		c.m.fields = e.result.Fields
		c.m.failed = e.result.FailedFields()
		c.m.rejection = RejectionMismatch
		c.m.errMsg = MsgMismatchPrefix + strings.Join(c.m.failed, ", ")
		c.enter(StateDocumentRejected)
	case !e.faceFound:
		c.m.fields = e.result.Fields
		c.m.rejection = RejectionNoFace
		c.m.errMsg = MsgNoFaceOnDocument
		c.enter(StateDocumentRejected)
	default:
		c.m.fields = e.result.Fields
		face := e.template
		c.m.docFace = &face
		c.enter(StateDocumentVerified)
		c.startCapture()
	}
}

func (c *change) captureRequested() error {
	if c.m.state != StateDocumentVerified {
		return fmt.Errorf("%w: open camera in %s", ErrInvalidTransition, c.m.state)
	}
	c.startCapture()
	return nil
}

func (c *change) retryRequested() error {
	if c.m.state != StateMatchTimeout && c.m.state != StateMatchExhausted {
		return fmt.Errorf("%w: retry in %s", ErrInvalidTransition, c.m.state)
	}
	c.startCapture()
	return nil
}

// startCapture begins a fresh capture loop. Any previous loop is stopped first.
func (c *change) startCapture() {
	c.emit(effStopLoop{})

	c.m.loop++
	c.m.attempts = 0
	c.m.inFlight = false
	c.m.distance = nil
	c.m.deviceError = ""
	c.m.captureStatus = capture.StatusInitializing
	c.m.errMsg = ""
	c.m.stage = StageInitializingCamera
	c.enter(StateCaptureActive)

	c.emit(effOpenCapture{loop: c.m.loop})
	c.emit(effArmTimeout{loop: c.m.loop})
}

func (c *change) captureReady(e captureReady) {
	if e.loop != c.m.loop || c.m.state != StateCaptureActive {
		return
	}
	c.m.captureStatus = capture.StatusReady
	c.m.stage = StageComparingFaces
	c.enter(StateMatching)
	c.emit(effStartTicker{loop: c.m.loop})
}

// deviceLost stops the loop and falls back to DocumentVerified until the user retries capture.
func (c *change) deviceLost(err *capture.DeviceError) {
	c.emit(effStopLoop{})
	c.m.inFlight = false
	c.m.captureStatus = capture.StatusError
	c.m.stage = ""
	if err == nil {
		err = &capture.DeviceError{Kind: capture.KindUnknown}
	}
	c.m.deviceError = err.Kind
	c.m.errMsg = err.Message()
	c.enter(StateDocumentVerified)
}

// tick checks exhaustion before counting, so attempts never exceed maxAttempts.
func (c *change) tick(e tick) {
	if e.loop != c.m.loop || c.m.state != StateMatching {
		return
	}

	if c.m.attempts >= c.m.maxAttempts {
		c.finishLoop(StateMatchExhausted)
		return
	}
	c.m.attempts++

	if c.m.attempts%c.m.processEvery != 0 || c.m.inFlight {
		return
	}
	c.m.inFlight = true
	c.emit(effExtractLive{loop: c.m.loop})
}

func (c *change) extractionDone(e extractionDone) {
	if e.loop != c.m.loop || c.m.state != StateMatching {
		return
	}
	c.m.inFlight = false

	if e.frameErr != nil && !errors.Is(e.frameErr, capture.ErrNoFrame) {
		c.deviceLost(capture.AsDeviceError(e.frameErr))
		return
	}
	if !e.faceFound {
		c.m.errMsg = MsgCenterFace
		return
	}

	c.m.errMsg = ""
	d := c.m.comparator.Distance(e.template, *c.m.docFace)
	c.m.distance = &d
	if !c.m.comparator.IsMatch(d) {
		return
	}

	c.emit(effStopLoop{})
	c.m.captureStatus = capture.StatusWaiting
	c.m.stage = ""
	c.m.successMsg = MsgVerified
	c.enter(StateVerified)
	c.emit(effAttest{loop: c.m.loop, claim: c.m.claim.Public(), distance: d})
}

// timeoutFired ends a loop that is still running. When the attempt budget is
// already spent the outcome is exhaustion, so both safety nets agree.
func (c *change) timeoutFired(e timeoutFired) {
	if !c.currentLoop(e.loop) {
		return
	}
	if c.m.attempts >= c.m.maxAttempts {
		c.finishLoop(StateMatchExhausted)
		return
	}
	c.finishLoop(StateMatchTimeout)
}

func (c *change) finishLoop(s State) {
	c.emit(effStopLoop{})
	c.m.inFlight = false
	c.m.captureStatus = capture.StatusWaiting
	c.m.stage = ""
	c.m.errMsg = MsgFaceMismatch
	c.enter(s)
}

// reset returns to Idle keeping only engine readiness. Pending document and
// capture work is cancelled and its late results are ignored.
func (c *change) reset() {
	c.emit(effStopLoop{})
	c.emit(effCancelDocument{})

	next := machine{
		maxAttempts:   c.m.maxAttempts,
		processEvery:  c.m.processEvery,
		comparator:    c.m.comparator,
		state:         c.m.state,
		modelsLoaded:  c.m.modelsLoaded,
		modelsFailed:  c.m.modelsFailed,
		docVersion:    c.m.docVersion + 1,
		loop:          c.m.loop + 1,
		captureStatus: capture.StatusWaiting,
	}
	if !next.modelsLoaded && !next.modelsFailed {
		next.stage = StageLoadingModels
	}
	c.m = next
	c.enter(StateIdle)
}
