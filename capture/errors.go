package capture

import (
	"errors"
	"fmt"
)

// ErrorKind classifies device access failures.
type ErrorKind string

const (
	KindPermissionDenied ErrorKind = "permission_denied"
	KindDeviceNotFound   ErrorKind = "device_not_found"
	KindDeviceBusy       ErrorKind = "device_busy"
	KindUnknown          ErrorKind = "unknown"
)

var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrDeviceNotFound   = errors.New("camera not found")
	ErrDeviceBusy       = errors.New("camera in use")
	ErrUnknownDevice    = errors.New("camera error")
)

// Client-side failure reasons, as reported by the browser media API.
const (
	ReasonNotAllowed  = "NotAllowedError"
	ReasonNotFound    = "NotFoundError"
	ReasonNotReadable = "NotReadableError"
)

// DeviceError is a device access failure with its taxonomy kind.
type DeviceError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *DeviceError) Error() string {
	msg := e.sentinel().Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Err}
}

func (e *DeviceError) sentinel() error {
	switch e.Kind {
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindDeviceNotFound:
		return ErrDeviceNotFound
	case KindDeviceBusy:
		return ErrDeviceBusy
	default:
		return ErrUnknownDevice
	}
}

// Message is the text shown to the user for this failure.
func (e *DeviceError) Message() string {
	switch e.Kind {
	case KindPermissionDenied:
		return "Camera access denied. Please allow camera access and try again."
	case KindDeviceNotFound:
		return "No camera found. Please connect a camera and try again."
	case KindDeviceBusy:
		return "Camera is in use by another application. Please close other apps using the camera."
	default:
		if e.Detail != "" {
			return fmt.Sprintf("Camera error: %s", e.Detail)
		}
		return "Failed to start camera"
	}
}

// ErrorFromReason maps a browser media error name onto the taxonomy.
func ErrorFromReason(reason, detail string) *DeviceError {
	switch reason {
	case ReasonNotAllowed:
		return &DeviceError{Kind: KindPermissionDenied, Detail: detail}
	case ReasonNotFound:
		return &DeviceError{Kind: KindDeviceNotFound, Detail: detail}
	case ReasonNotReadable:
		return &DeviceError{Kind: KindDeviceBusy, Detail: detail}
	default:
		if detail == "" {
			detail = reason
		}
		return &DeviceError{Kind: KindUnknown, Detail: detail}
	}
}

// AsDeviceError returns err as a *DeviceError, wrapping anything else as an unknown failure.
func AsDeviceError(err error) *DeviceError {
	if err == nil {
		return nil
	}
	var derr *DeviceError
	if errors.As(err, &derr) {
		return derr
	}
	return &DeviceError{Kind: KindUnknown, Err: err}
}
