package verification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go-identity-verifier/biometric"
	"go-identity-verifier/capture"
	"go-identity-verifier/document"
	"go-identity-verifier/images"
	"go-identity-verifier/logging"
)

// Pipeline bundles the stage components a session drives.
type Pipeline struct {
	Normalizer *images.Normalizer
	Verifier   *document.Verifier
	Extractor  *biometric.Extractor
	Attester   Attester
	Store      SnapshotStore
	Recorder   Recorder
}

type envelope struct {
	ev    Event
	reply chan dispatchResult
}

type dispatchResult struct {
	snap Snapshot
	err  error
}

// Session owns one verification attempt. All state changes happen on a single
// event loop goroutine; asynchronous work posts its result back as an event.
type Session struct {
	id       string
	cfg      Config
	pipeline Pipeline
	capture  *capture.Manager
	device   capture.Device
	recorder Recorder
	log      *slog.Logger

	events    chan envelope
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	current    atomic.Pointer[Snapshot]
	lastActive atomic.Int64
	publisher  *publisher

	// owned by the event loop
	m          machine
	docTask    taskSlot
	openTask   taskSlot
	liveTask   taskSlot
	stopTicker func()
	timeout    *time.Timer
}

func newSession(id string, cfg Config, pipeline Pipeline, device capture.Device, constraints capture.Constraints) *Session {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	recorder := pipeline.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	s := &Session{
		id:       id,
		cfg:      cfg,
		pipeline: pipeline,
		capture:  capture.NewManager(device, constraints),
		device:   device,
		recorder: recorder,
		log:      logging.With("verification").With("session_id", id),
		events:   make(chan envelope, 16),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		m:        newMachine(cfg),
	}
	if pipeline.Store != nil {
		s.publisher = newPublisher(pipeline.Store, s.log)
	}
	s.touch()
	s.publish()

	go s.run()
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Device returns the capture device the session opens streams on.
func (s *Session) Device() capture.Device {
	return s.device
}

// Snapshot returns the latest published view of the session.
func (s *Session) Snapshot() Snapshot {
	return *s.current.Load()
}

// Dispatch applies ev and returns the resulting snapshot. Refused events
// return the unchanged snapshot and an error.
func (s *Session) Dispatch(ctx context.Context, ev Event) (Snapshot, error) {
	env := envelope{ev: ev, reply: make(chan dispatchResult, 1)}

	select {
	case s.events <- env:
	case <-s.done:
		return Snapshot{}, ErrSessionClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	s.touch()

	select {
	case res := <-env.reply:
		return res.snap, res.err
	case <-s.done:
		return Snapshot{}, ErrSessionClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Close stops the session and releases every resource it holds. It blocks
// until the event loop has exited.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		<-s.stopped
		if s.publisher != nil {
			s.publisher.close()
		}
		s.log.Debug("Session closed")
	})
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// post delivers an internal event unless the session is closing.
func (s *Session) post(ev Event) {
	select {
	case s.events <- envelope{ev: ev}:
	case <-s.done:
	}
}

func (s *Session) run() {
	defer close(s.stopped)
	defer s.stopLoop()
	defer s.docTask.cancel()

	for {
		select {
		case env := <-s.events:
			snap, err := s.handle(env.ev)
			if env.reply != nil {
				env.reply <- dispatchResult{snap: snap, err: err}
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) handle(ev Event) (Snapshot, error) {
	prev := s.m
	next, effects, transitions, err := s.m.apply(ev)
	if err != nil {
		s.log.Debug("Event refused", "event", ev.eventName(), "state", s.m.state, "error", err)
		return s.Snapshot(), err
	}
	s.m = next

	for _, t := range transitions {
		s.log.Debug("Session transition", "from", t.From, "to", t.To, "event", t.Event)
		s.record(t)
	}
	if done, ok := ev.(extractionDone); ok && done.faceFound && done.loop == prev.loop &&
		prev.state == StateMatching && s.m.distance != nil {
		s.recorder.MatchDistance(*s.m.distance)
	}

	for _, eff := range effects {
		s.execute(eff)
	}

	return s.publish(), nil
}

func (s *Session) record(t Transition) {
	switch t.To {
	case StateDocumentVerified:
		if t.From == StateDocumentVerifying {
			s.recorder.DocumentOutcome(OutcomeVerified)
		} else if t.From.captureRunning() {
			s.recorder.CaptureOutcome(OutcomeDeviceError)
		}
	case StateDocumentRejected:
		switch s.m.rejection {
		case RejectionNoFace:
			s.recorder.DocumentOutcome(OutcomeNoFace)
		case RejectionUnreadable:
			s.recorder.DocumentOutcome(OutcomeUnreadable)
		default:
			s.recorder.DocumentOutcome(OutcomeRejected)
		}
	case StateVerified:
		s.recorder.CaptureOutcome(OutcomeVerified)
	case StateMatchTimeout:
		s.recorder.CaptureOutcome(OutcomeTimeout)
	case StateMatchExhausted:
		s.recorder.CaptureOutcome(OutcomeExhausted)
	}
}

func (s *Session) publish() Snapshot {
	snap := s.m.snapshot(s.id, time.Now())
	s.current.Store(&snap)
	if s.publisher != nil {
		s.publisher.offer(snap)
	}
	return snap
}

func (s *Session) execute(eff effect) {
	switch e := eff.(type) {
	case effCheckDocument:
		ctx := s.docTask.replace(s.ctx)
		go s.checkDocument(ctx, e)
	case effCancelDocument:
		s.docTask.cancel()
	case effOpenCapture:
		s.capture.Arm()
		ctx := s.openTask.replace(s.ctx)
		go s.openCapture(ctx, e.loop)
	case effArmTimeout:
		s.armTimeout(e.loop)
	case effStartTicker:
		s.startTicker(e.loop)
	case effExtractLive:
		ctx := s.liveTask.replace(s.ctx)
		go s.extractLive(ctx, e.loop)
	case effStopLoop:
		s.stopLoop()
	case effAttest:
		if s.pipeline.Attester != nil {
			go s.attest(e)
		}
	}
}

// stopLoop cancels the ticker, the timeout and in-flight capture work, and
// releases the device.
func (s *Session) stopLoop() {
	if s.stopTicker != nil {
		s.stopTicker()
		s.stopTicker = nil
	}
	if s.timeout != nil {
		s.timeout.Stop()
		s.timeout = nil
	}
	s.liveTask.cancel()
	s.openTask.cancel()
	s.capture.Close()
}

func (s *Session) armTimeout(loop int) {
	if s.timeout != nil {
		s.timeout.Stop()
	}
	s.timeout = time.AfterFunc(s.cfg.CaptureTimeout(), func() {
		s.post(timeoutFired{loop: loop})
	})
}

func (s *Session) startTicker(loop int) {
	if s.stopTicker != nil {
		s.stopTicker()
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	stop := make(chan struct{})
	s.stopTicker = func() {
		ticker.Stop()
		close(stop)
	}

	go func() {
		for {
			select {
			case <-ticker.C:
				select {
				case s.events <- envelope{ev: tick{loop: loop}}:
				case <-stop:
					return
				case <-s.done:
					return
				}
			case <-stop:
				return
			case <-s.done:
				return
			}
		}
	}()
}

func (s *Session) checkDocument(ctx context.Context, e effCheckDocument) {
	img, err := s.pipeline.Normalizer.Normalize(e.image)
	if err != nil {
		s.postUnlessCancelled(ctx, documentChecked{version: e.version, err: err})
		return
	}

	text := s.pipeline.Verifier.ExtractText(ctx, img)
	result := document.VerifyClaims(text, e.claim)
	out := documentChecked{version: e.version, result: result}

	if result.AllMatched {
		s.postUnlessCancelled(ctx, stageProgress{version: e.version, stage: StageDetectingFace})
		out.template, out.faceFound = s.pipeline.Extractor.ExtractDocument(ctx, img)
	}

	s.postUnlessCancelled(ctx, out)
}

func (s *Session) openCapture(ctx context.Context, loop int) {
	s.postUnlessCancelled(ctx, captureProgress{loop: loop, status: capture.StatusRequestingPermission})
	c := s.capture.Constraints()
	s.log.Debug("Opening capture device", "loop", loop, "width", c.Width, "height", c.Height, "facing_mode", c.FacingMode)

	stream, err := s.capture.Open(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.post(captureFailed{loop: loop, err: capture.AsDeviceError(err)})
		}
		return
	}
	s.postUnlessCancelled(ctx, captureProgress{loop: loop, status: capture.StatusStreamAcquired})

	if err := stream.WaitReady(ctx); err != nil {
		if ctx.Err() == nil {
			s.post(captureFailed{loop: loop, err: capture.AsDeviceError(err)})
		}
		return
	}
	s.postUnlessCancelled(ctx, captureReady{loop: loop})
}

func (s *Session) extractLive(ctx context.Context, loop int) {
	start := time.Now()
	out := extractionDone{loop: loop}

	stream := s.capture.Current()
	if stream == nil {
		out.frameErr = capture.ErrStreamClosed
		s.postUnlessCancelled(ctx, out)
		return
	}

	frame, err := stream.Frame()
	if err != nil {
		out.frameErr = err
		s.postUnlessCancelled(ctx, out)
		return
	}

	img, err := s.pipeline.Normalizer.NormalizeImage(frame)
	if err != nil {
		s.log.Warn("Failed to normalize live frame", "error", err)
		s.postUnlessCancelled(ctx, out)
		return
	}

	out.template, out.faceFound = s.pipeline.Extractor.ExtractLive(ctx, img)
	out.latency = time.Since(start)
	s.recorder.LiveExtraction(out.latency)
	s.postUnlessCancelled(ctx, out)
}

func (s *Session) attest(e effAttest) {
	token, err := s.pipeline.Attester.Attest(s.ctx, e.claim, e.distance)
	if err != nil {
		s.log.Warn("Failed to attest verified identity", "error", err)
	}
	s.post(attested{loop: e.loop, token: token, err: err})
}

func (s *Session) postUnlessCancelled(ctx context.Context, ev Event) {
	if ctx.Err() != nil {
		return
	}
	s.post(ev)
}

// taskSlot holds at most one cancellable task. Replacing it cancels the previous one.
type taskSlot struct {
	stop context.CancelFunc
}

func (t *taskSlot) replace(parent context.Context) context.Context {
	t.cancel()
	ctx, cancel := context.WithCancel(parent)
	t.stop = cancel
	return ctx
}

func (t *taskSlot) cancel() {
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
}

// publisher writes snapshots to the store off the event loop. Only the latest
// pending snapshot is kept.
type publisher struct {
	store SnapshotStore
	log   *slog.Logger

	mu      sync.Mutex
	pending *Snapshot
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
}

func newPublisher(store SnapshotStore, log *slog.Logger) *publisher {
	p := &publisher{
		store: store,
		log:   log,
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *publisher) offer(snap Snapshot) {
	p.mu.Lock()
	p.pending = &snap
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *publisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-p.quit:
			p.flush()
			return
		}
	}
}

func (p *publisher) flush() {
	p.mu.Lock()
	snap := p.pending
	p.pending = nil
	p.mu.Unlock()

	if snap == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.Save(ctx, *snap); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn("Failed to store session snapshot", "error", err)
	}
}

func (p *publisher) close() {
	close(p.quit)
	<-p.done
}
