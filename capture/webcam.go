//go:build gocv

package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// WebcamDevice opens a local camera through OpenCV.
type WebcamDevice struct {
	deviceID int
}

func NewWebcamDevice(deviceID int) *WebcamDevice {
	return &WebcamDevice{deviceID: deviceID}
}

func (d *WebcamDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(d.deviceID)
	if err != nil {
		return nil, &DeviceError{Kind: KindDeviceNotFound, Detail: fmt.Sprintf("device %d", d.deviceID), Err: err}
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, &DeviceError{Kind: KindDeviceBusy, Detail: fmt.Sprintf("device %d", d.deviceID)}
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))

	s := &webcamStream{
		vc:    vc,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

type webcamStream struct {
	vc *gocv.VideoCapture
	wg sync.WaitGroup

	readyOnce sync.Once
	ready     chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	mu    sync.Mutex
	frame image.Image
}

func (s *webcamStream) run() {
	defer s.wg.Done()

	mat := gocv.NewMat()
	defer mat.Close()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if ok := s.vc.Read(&mat); !ok || mat.Empty() {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		img, err := mat.ToImage()
		if err != nil {
			slog.Warn("Failed to convert webcam frame", "error", err)
			continue
		}

		s.mu.Lock()
		s.frame = img
		s.mu.Unlock()
		s.readyOnce.Do(func() { close(s.ready) })
	}
}

func (s *webcamStream) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *webcamStream) Frame() (image.Image, error) {
	select {
	case <-s.done:
		return nil, ErrStreamClosed
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, ErrNoFrame
	}
	return s.frame, nil
}

func (s *webcamStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.vc.Close()

		s.mu.Lock()
		s.frame = nil
		s.mu.Unlock()
	})
	return err
}
