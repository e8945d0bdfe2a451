package main

import (
	"fmt"
	"log/slog"

	"go-identity-verifier/biometric"
	"go-identity-verifier/capture"
	"go-identity-verifier/document"
	"go-identity-verifier/verification"
)

// Engines are the recognition providers and capture device source shared by all sessions.
type Engines struct {
	Face      biometric.Engine
	Text      document.TextRecognizer
	NewDevice verification.DeviceFactory
}

// healthChecks returns the engines that can report whether their backing service is reachable.
func (e Engines) healthChecks() map[string]HealthChecker {
	checks := map[string]HealthChecker{}
	if hc, ok := e.Face.(HealthChecker); ok {
		checks["face_engine"] = hc
	}
	if hc, ok := e.Text.(HealthChecker); ok {
		checks["text_engine"] = hc
	}
	return checks
}

// Close releases in-process models held by the engines.
func (e Engines) Close() {
	if c, ok := e.Face.(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := e.Text.(interface{ Close() }); ok {
		c.Close()
	}
}

func createEngines(config *Config) (Engines, error) {
	face, err := createFaceEngine(config.FaceEngine)
	if err != nil {
		return Engines{}, fmt.Errorf("failed to create face engine: %w", err)
	}

	text, err := createTextRecognizer(config.TextEngine)
	if err != nil {
		return Engines{}, fmt.Errorf("failed to create text recognizer: %w", err)
	}

	newDevice, err := createDeviceFactory(config.Capture)
	if err != nil {
		return Engines{}, fmt.Errorf("failed to create capture device: %w", err)
	}

	return Engines{Face: face, Text: text, NewDevice: newDevice}, nil
}

func createFaceEngine(config FaceEngineConfig) (biometric.Engine, error) {
	switch config.Type {
	case "http":
		if config.URL == "" {
			return nil, fmt.Errorf("face_engine.url is required for the http engine")
		}
		slog.Info("Using face service", "url", config.URL)
		return biometric.NewRemoteEngine(config.URL, config.Timeout.Std()), nil
	case "dlib":
		slog.Info("Using dlib face engine", "model_dir", config.ModelDir)
		return newDlibEngine(config.ModelDir)
	}
	return nil, fmt.Errorf("%v is not a valid face engine type", config.Type)
}

func createTextRecognizer(config TextEngineConfig) (document.TextRecognizer, error) {
	switch config.Type {
	case "http":
		if config.URL == "" {
			return nil, fmt.Errorf("text_engine.url is required for the http engine")
		}
		slog.Info("Using text recognition service", "url", config.URL, "language", config.Language)
		return document.NewRemoteRecognizer(config.URL, config.Language, config.Timeout.Std()), nil
	case "tesseract":
		slog.Info("Using tesseract text recognition", "language", config.Language)
		return newTesseractRecognizer(config.Language)
	}
	return nil, fmt.Errorf("%v is not a valid text engine type", config.Type)
}

func createDeviceFactory(config CaptureConfig) (verification.DeviceFactory, error) {
	switch config.Type {
	case "remote":
		return func(string) capture.Device {
			return capture.NewRemoteDevice()
		}, nil
	case "webcam":
		return newWebcamFactory(config.DeviceID)
	}
	return nil, fmt.Errorf("%v is not a valid capture type", config.Type)
}
