//go:build dlib

package main

import "go-identity-verifier/biometric"

func newDlibEngine(modelDir string) (biometric.Engine, error) {
	return biometric.NewDlibEngine(modelDir), nil
}
