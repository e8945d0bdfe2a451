// Package capture acquires and releases live video devices.
package capture

import (
	"context"
	"errors"
	"image"
)

// The capture resolution is kept low to bound per-frame recognition latency.
const (
	DefaultWidth  = 240
	DefaultHeight = 180
	FacingUser    = "user"
)

var (
	ErrNoFrame      = errors.New("no frame available yet")
	ErrStreamClosed = errors.New("capture stream closed")
	ErrNoStream     = errors.New("no capture stream open")
)

// Status is the camera lifecycle as shown to the user.
type Status string

const (
	StatusWaiting              Status = "waiting"
	StatusInitializing         Status = "initializing"
	StatusRequestingPermission Status = "requesting_permission"
	StatusStreamAcquired       Status = "stream_acquired"
	StatusReady                Status = "ready"
	StatusError                Status = "error"
)

// Constraints describe the requested video track.
type Constraints struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FacingMode string `json:"facing_mode"`
}

func DefaultConstraints() Constraints {
	return Constraints{Width: DefaultWidth, Height: DefaultHeight, FacingMode: FacingUser}
}

// Device opens live video streams. Failures should be *DeviceError values.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Armer is a device that only keeps failure reports between Arm and Disarm,
// while a capture is starting or running.
type Armer interface {
	Arm()
	Disarm()
}

// Stream is an open video handle.
type Stream interface {
	// WaitReady blocks until the stream delivers frames.
	WaitReady(ctx context.Context) error
	// Frame returns the most recent frame.
	Frame() (image.Image, error)
	// Close releases the device and its display surface. It is idempotent.
	Close() error
}
