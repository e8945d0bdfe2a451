package capture

import (
	"context"
	"image"
	"log/slog"
	"sync"
)

// RemoteDevice is a camera that lives in the user's browser. The browser
// pushes frames over HTTP and reports media errors.
type RemoteDevice struct {
	mu      sync.Mutex
	stream  *remoteStream
	armed   bool
	pending *DeviceError
}

func NewRemoteDevice() *RemoteDevice {
	return &RemoteDevice{}
}

// Arm starts accepting failure reports for a capture that has no stream yet.
func (d *RemoteDevice) Arm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = true
	d.pending = nil
}

// Disarm drops any unclaimed failure report.
func (d *RemoteDevice) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
	d.pending = nil
}

// Open starts a stream that becomes ready with the first pushed frame. A failure
// reported while armed and before the stream opened is returned here instead.
func (d *RemoteDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending != nil {
		err := d.pending
		d.pending = nil
		return nil, err
	}

	s := &remoteStream{
		device:      d,
		constraints: c,
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}
	d.stream = s
	return s, nil
}

// Push hands a frame to the open stream.
func (d *RemoteDevice) Push(frame image.Image) error {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()

	if s == nil {
		return ErrNoStream
	}
	return s.push(frame)
}

// Fail reports a client-side device failure by its media error name. Reports
// arriving while no stream is open and the device is not armed are dropped.
func (d *RemoteDevice) Fail(reason, detail string) *DeviceError {
	derr := ErrorFromReason(reason, detail)

	d.mu.Lock()
	s := d.stream
	if s == nil {
		if d.armed {
			d.pending = derr
		} else {
			slog.Debug("Ignoring capture failure outside a capture", "kind", derr.Kind)
		}
	}
	d.mu.Unlock()

	if s != nil {
		s.fail(derr)
	}
	return derr
}

// Active reports whether a stream is currently open.
func (d *RemoteDevice) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream != nil
}

func (d *RemoteDevice) detach(s *remoteStream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == s {
		d.stream = nil
	}
}

type remoteStream struct {
	device      *RemoteDevice
	constraints Constraints

	readyOnce sync.Once
	ready     chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	frame  image.Image
	err    error
	closed bool
}

func (s *remoteStream) push(frame image.Image) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.frame = frame
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	return nil
}

func (s *remoteStream) fail(err *DeviceError) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.Close()
}

func (s *remoteStream) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return s.err
		}
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *remoteStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		if s.err != nil {
			return nil, s.err
		}
		return nil, ErrStreamClosed
	}
	if s.frame == nil {
		return nil, ErrNoFrame
	}
	return s.frame, nil
}

func (s *remoteStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.frame = nil
		s.mu.Unlock()

		close(s.done)
		s.device.detach(s)
	})
	return nil
}
