package capture

import (
	"context"
	"log/slog"
	"sync"
)

// Manager owns at most one open stream. Every Open releases the previous stream first.
type Manager struct {
	device      Device
	constraints Constraints

	mu         sync.Mutex
	current    Stream
	generation uint64
}

func NewManager(device Device, c Constraints) *Manager {
	if c.Width <= 0 || c.Height <= 0 {
		def := DefaultConstraints()
		c.Width, c.Height = def.Width, def.Height
	}
	if c.FacingMode == "" {
		c.FacingMode = FacingUser
	}
	return &Manager{device: device, constraints: c}
}

func (m *Manager) Constraints() Constraints {
	return m.constraints
}

// Arm tells an Armer device that a capture is starting.
func (m *Manager) Arm() {
	if a, ok := m.device.(Armer); ok {
		a.Arm()
	}
}

// Open releases any tracked stream and opens a new one. Device failures are
// returned as *DeviceError. The lock is not held while the device opens; a
// stream that was superseded by a Close or a newer Open in the meantime is
// closed again and ErrStreamClosed is returned.
func (m *Manager) Open(ctx context.Context) (Stream, error) {
	m.mu.Lock()
	m.closeLocked()
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, err := m.device.Open(ctx, m.constraints)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		derr := AsDeviceError(err)
		slog.Warn("Failed to open capture device", "kind", derr.Kind, "error", err)
		return nil, derr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		stream.Close()
		return nil, err
	}
	if gen != m.generation {
		stream.Close()
		slog.Debug("Capture stream superseded while opening")
		return nil, ErrStreamClosed
	}

	m.current = stream
	slog.Debug("Capture stream opened")
	return stream, nil
}

// Close releases the tracked stream, if any, and disarms the device. It also
// invalidates an Open that is still in progress. Safe to call repeatedly.
func (m *Manager) Close() {
	m.mu.Lock()
	m.generation++
	m.closeLocked()
	m.mu.Unlock()

	if a, ok := m.device.(Armer); ok {
		a.Disarm()
	}
}

func (m *Manager) closeLocked() {
	if m.current == nil {
		return
	}
	if err := m.current.Close(); err != nil {
		slog.Warn("Failed to close capture stream", "error", err)
	}
	m.current = nil
	slog.Debug("Capture stream released")
}

// Current returns the open stream or nil.
func (m *Manager) Current() Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
