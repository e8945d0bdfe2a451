package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingDevice struct {
	mu      sync.Mutex
	open    int
	opened  int
	err     error
	streams []*countingStream
}

func (d *countingDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.open++
	d.opened++
	s := &countingStream{device: d}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *countingDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

type countingStream struct {
	device *countingDevice
	closed bool
}

func (s *countingStream) WaitReady(context.Context) error { return nil }

func (s *countingStream) Frame() (image.Image, error) { return nil, ErrNoFrame }

func (s *countingStream) Close() error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.device.open--
	}
	return nil
}

func TestManagerOpenReleasesPreviousStream(t *testing.T) {
	device := &countingDevice{}
	m := NewManager(device, Constraints{})

	first, err := m.Open(context.Background())
	require.NoError(t, err)
	second, err := m.Open(context.Background())
	require.NoError(t, err)

	require.NotSame(t, first, second)
	require.Equal(t, 1, device.openCount())
	require.True(t, first.(*countingStream).closed)
	require.Same(t, second, m.Current())
}

func TestManagerCloseIsIdempotent(t *testing.T) {
	device := &countingDevice{}
	m := NewManager(device, DefaultConstraints())

	_, err := m.Open(context.Background())
	require.NoError(t, err)

	m.Close()
	m.Close()
	require.Equal(t, 0, device.openCount())
	require.Nil(t, m.Current())
}

func TestManagerRepeatedCyclesDoNotLeak(t *testing.T) {
	device := &countingDevice{}
	m := NewManager(device, DefaultConstraints())

	for i := 0; i < 10; i++ {
		_, err := m.Open(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, device.openCount())
		if i%3 == 0 {
			m.Close()
		}
	}
	m.Close()
	require.Equal(t, 0, device.openCount())
	require.Equal(t, 10, device.opened)
}

func TestManagerWrapsDeviceErrors(t *testing.T) {
	device := &countingDevice{err: errors.New("v4l2: ioctl failed")}
	m := NewManager(device, DefaultConstraints())

	_, err := m.Open(context.Background())
	var derr *DeviceError
	require.ErrorAs(t, err, &derr)
	require.Equal(t, KindUnknown, derr.Kind)
	require.ErrorIs(t, err, ErrUnknownDevice)
	require.Nil(t, m.Current())
}

func TestManagerCancelledContext(t *testing.T) {
	device := &countingDevice{}
	m := NewManager(device, DefaultConstraints())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Open(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, device.opened)
}

type blockingDevice struct {
	release chan struct{}
	entered chan struct{}
	stream  *countingStream
}

func (d *blockingDevice) Open(context.Context, Constraints) (Stream, error) {
	close(d.entered)
	<-d.release
	return d.stream, nil
}

func TestManagerCloseDoesNotWaitForSlowOpen(t *testing.T) {
	device := &blockingDevice{
		release: make(chan struct{}),
		entered: make(chan struct{}),
		stream:  &countingStream{device: &countingDevice{open: 1}},
	}
	m := NewManager(device, DefaultConstraints())

	opened := make(chan error, 1)
	go func() {
		_, err := m.Open(context.Background())
		opened <- err
	}()
	<-device.entered

	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on an opening device")
	}

	close(device.release)
	select {
	case err := <-opened:
		require.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(time.Second):
		t.Fatal("Open did not return")
	}
	require.True(t, device.stream.closed)
	require.Nil(t, m.Current())
}

func TestManagerDefaultsConstraints(t *testing.T) {
	m := NewManager(&countingDevice{}, Constraints{})
	require.Equal(t, DefaultConstraints(), m.Constraints())
}

func TestErrorFromReason(t *testing.T) {
	tests := []struct {
		reason   string
		kind     ErrorKind
		sentinel error
		message  string
	}{
		{ReasonNotAllowed, KindPermissionDenied, ErrPermissionDenied, "Camera access denied. Please allow camera access and try again."},
		{ReasonNotFound, KindDeviceNotFound, ErrDeviceNotFound, "No camera found. Please connect a camera and try again."},
		{ReasonNotReadable, KindDeviceBusy, ErrDeviceBusy, "Camera is in use by another application. Please close other apps using the camera."},
		{"OverconstrainedError", KindUnknown, ErrUnknownDevice, "Camera error: OverconstrainedError"},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			derr := ErrorFromReason(tt.reason, "")
			require.Equal(t, tt.kind, derr.Kind)
			require.ErrorIs(t, derr, tt.sentinel)
			require.Equal(t, tt.message, derr.Message())
		})
	}

	require.Equal(t, "Failed to start camera", (&DeviceError{Kind: KindUnknown}).Message())
}

func TestRemoteDeviceStreamLifecycle(t *testing.T) {
	device := NewRemoteDevice()
	require.ErrorIs(t, device.Push(image.NewRGBA(image.Rect(0, 0, 1, 1))), ErrNoStream)

	stream, err := device.Open(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	require.True(t, device.Active())

	_, err = stream.Frame()
	require.ErrorIs(t, err, ErrNoFrame)

	waitErr := make(chan error, 1)
	go func() { waitErr <- stream.WaitReady(context.Background()) }()

	frame := image.NewRGBA(image.Rect(0, 0, 4, 3))
	require.NoError(t, device.Push(frame))

	select {
	case err := <-waitErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stream did not become ready")
	}

	got, err := stream.Frame()
	require.NoError(t, err)
	require.Same(t, frame, got)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	require.False(t, device.Active())

	_, err = stream.Frame()
	require.ErrorIs(t, err, ErrStreamClosed)
	require.ErrorIs(t, device.Push(frame), ErrNoStream)
}

func TestRemoteDeviceFailWhileWaiting(t *testing.T) {
	device := NewRemoteDevice()
	stream, err := device.Open(context.Background(), DefaultConstraints())
	require.NoError(t, err)

	derr := device.Fail(ReasonNotAllowed, "")
	require.Equal(t, KindPermissionDenied, derr.Kind)

	err = stream.WaitReady(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.False(t, device.Active())
}

func TestRemoteStreamReportsFailureAfterFrames(t *testing.T) {
	device := NewRemoteDevice()
	stream, err := device.Open(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	require.NoError(t, device.Push(image.NewRGBA(image.Rect(0, 0, 4, 4))))

	device.Fail(ReasonNotReadable, "")

	_, err = stream.Frame()
	require.ErrorIs(t, err, ErrDeviceBusy)
	require.ErrorIs(t, device.Push(image.NewRGBA(image.Rect(0, 0, 4, 4))), ErrNoStream)
}

func TestRemoteDeviceFailBeforeOpen(t *testing.T) {
	device := NewRemoteDevice()
	device.Arm()
	device.Fail(ReasonNotFound, "")

	_, err := device.Open(context.Background(), DefaultConstraints())
	require.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = device.Open(context.Background(), DefaultConstraints())
	require.NoError(t, err)
}

func TestRemoteDeviceDropsFailureOutsideCapture(t *testing.T) {
	device := NewRemoteDevice()
	m := NewManager(device, DefaultConstraints())

	m.Arm()
	_, err := m.Open(context.Background())
	require.NoError(t, err)
	m.Close()

	derr := device.Fail(ReasonNotAllowed, "late report from previous loop")
	require.Equal(t, KindPermissionDenied, derr.Kind)

	m.Arm()
	stream, err := m.Open(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stream)
}

func TestRemoteDeviceArmDiscardsStaleFailure(t *testing.T) {
	device := NewRemoteDevice()
	m := NewManager(device, DefaultConstraints())

	m.Arm()
	device.Fail(ReasonNotReadable, "")
	m.Close()

	m.Arm()
	_, err := m.Open(context.Background())
	require.NoError(t, err)
}

func TestRemoteStreamWaitReadyHonoursContext(t *testing.T) {
	device := NewRemoteDevice()
	stream, err := device.Open(context.Background(), DefaultConstraints())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, stream.WaitReady(ctx), context.DeadlineExceeded)
}
