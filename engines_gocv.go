//go:build gocv

package main

import (
	"go-identity-verifier/capture"
	"go-identity-verifier/verification"
)

// The webcam is a single local device, so every session shares it. The
// capture manager of each session releases the stream it opened.
func newWebcamFactory(deviceID int) (verification.DeviceFactory, error) {
	device := capture.NewWebcamDevice(deviceID)
	return func(string) capture.Device {
		return device
	}, nil
}
