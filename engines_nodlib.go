//go:build !dlib

package main

import (
	"fmt"

	"go-identity-verifier/biometric"
)

func newDlibEngine(string) (biometric.Engine, error) {
	return nil, fmt.Errorf("dlib face engine not available: build with -tags dlib")
}
