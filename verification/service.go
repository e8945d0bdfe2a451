package verification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"go-identity-verifier/biometric"
	"go-identity-verifier/capture"
)

// Loader is a recognition engine with an explicit model bootstrap.
type Loader interface {
	Load(ctx context.Context) error
}

// DeviceFactory returns the capture device for a new session.
type DeviceFactory func(sessionID string) capture.Device

// Service creates and tracks sessions on this replica.
type Service struct {
	cfg         Config
	pipeline    Pipeline
	loaders     []Loader
	newDevice   DeviceFactory
	constraints capture.Constraints

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewService(cfg Config, pipeline Pipeline, loaders []Loader, newDevice DeviceFactory, constraints capture.Constraints) *Service {
	if pipeline.Recorder == nil {
		pipeline.Recorder = nopRecorder{}
	}
	cfg = cfg.withDefaults()

	attrs := []any{
		"match_threshold", biometric.NewComparator(cfg.MatchThreshold).Threshold(),
		"max_attempts", cfg.MaxAttempts,
		"tick_interval", cfg.TickInterval,
		"capture_timeout", cfg.CaptureTimeout(),
	}
	if pipeline.Normalizer != nil {
		attrs = append(attrs, "max_image_dimension", pipeline.Normalizer.MaxDimension())
	}
	slog.Info("Verification service configured", attrs...)

	return &Service{
		cfg:         cfg,
		pipeline:    pipeline,
		loaders:     loaders,
		newDevice:   newDevice,
		constraints: constraints,
		sessions:    make(map[string]*Session),
	}
}

// Create starts a session and bootstraps its recognition engines in the background.
func (s *Service) Create() *Session {
	id := uuid.NewString()
	sess := newSession(id, s.cfg, s.pipeline, s.newDevice(id), s.constraints)

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.pipeline.Recorder.SessionCreated()
	slog.Info("Verification session created", "session_id", id)

	go s.bootstrap(sess)
	return sess
}

func (s *Service) bootstrap(sess *Session) {
	g, ctx := errgroup.WithContext(sess.ctx)
	for _, l := range s.loaders {
		g.Go(func() error {
			return l.Load(ctx)
		})
	}

	err := g.Wait()
	if err != nil {
		slog.Error("Failed to load recognition models", "session_id", sess.id, "error", err)
	}
	if _, dispatchErr := sess.Dispatch(sess.ctx, ModelsLoaded{Err: err}); dispatchErr != nil {
		slog.Debug("Session gone before models loaded", "session_id", sess.id, "error", dispatchErr)
	}
}

// Get returns a session owned by this replica.
func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Snapshot returns the session's view, falling back to the snapshot store for
// sessions owned by another replica.
func (s *Service) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	if sess, err := s.Get(id); err == nil {
		return sess.Snapshot(), nil
	}

	if s.pipeline.Store == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	snap, err := s.pipeline.Store.Load(ctx, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load session snapshot: %w", err)
	}
	if snap == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return *snap, nil
}

// Close ends a session, releasing its device and timers, and forgets its snapshot.
func (s *Service) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	sess.Close()
	if s.pipeline.Store != nil {
		if err := s.pipeline.Store.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete session snapshot: %w", err)
		}
	}
	slog.Info("Verification session closed", "session_id", id)
	return nil
}

// Len returns the number of sessions owned by this replica.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ExpireIdle closes sessions without activity for longer than the session TTL.
func (s *Service) ExpireIdle(ctx context.Context, now time.Time) int {
	s.mu.RLock()
	var expired []string
	for id, sess := range s.sessions {
		if now.Sub(sess.idleSince()) > s.cfg.SessionTTL {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		if err := s.Close(ctx, id); err != nil {
			slog.Warn("Failed to expire session", "session_id", id, "error", err)
		}
	}
	return len(expired)
}

// RunJanitor expires idle sessions every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.ExpireIdle(ctx, now); n > 0 {
				slog.Info("Expired idle sessions", "count", n)
			}
		}
	}
}

// Shutdown closes every session.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Close(ctx, id); err != nil {
			slog.Warn("Failed to close session on shutdown", "session_id", id, "error", err)
		}
	}
}
