//go:build !gocv

package main

import (
	"fmt"

	"go-identity-verifier/verification"
)

func newWebcamFactory(int) (verification.DeviceFactory, error) {
	return nil, fmt.Errorf("webcam capture not available: build with -tags gocv")
}
