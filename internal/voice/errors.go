package voice

import (
	"errors"
	"fmt"
)

// ErrorKind buckets every backend failure that crosses a router boundary.
// No raw backend error type reaches the UI layer.
type ErrorKind string

const (
	// KindConfiguration means missing or invalid credentials/settings. The
	// operation fails immediately and is never retried.
	KindConfiguration ErrorKind = "configuration"
	// KindTransient means a network or API failure. Synthesis falls back to
	// the platform backend exactly once; recognition surfaces it and the user
	// must restart.
	KindTransient ErrorKind = "transient"
	// KindPermission means microphone or audio-device access was denied.
	// Fatal for the current session.
	KindPermission ErrorKind = "permission"
)

// BackendError is the only error shape routers let escape.
type BackendError struct {
	Kind   ErrorKind
	Code   string
	Detail string
	Err    error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Kind, e.Err)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s (%s)", e.Code, e.Kind)
}

func (e *BackendError) Unwrap() error { return e.Err }

func newConfigurationError(code, detail string) *BackendError {
	return &BackendError{Kind: KindConfiguration, Code: code, Detail: detail}
}

func newTransientError(code string, err error) *BackendError {
	return &BackendError{Kind: KindTransient, Code: code, Err: err}
}

func newPermissionError(code, detail string) *BackendError {
	return &BackendError{Kind: KindPermission, Code: code, Detail: detail}
}

// ErrRecognitionUnsupported is returned by Start when no recognition backend
// is configured and available.
var ErrRecognitionUnsupported = newConfigurationError(
	"recognition_unsupported", "no recognition backend configured or available")

// ErrSynthesisUnsupported is surfaced when neither synthesis backend can
// serve a speak request.
var ErrSynthesisUnsupported = newConfigurationError(
	"synthesis_unsupported", "no synthesis backend configured or available")

// classifyBackendError converts an arbitrary backend failure into the
// taxonomy. Already-classified errors pass through unchanged.
func classifyBackendError(code string, err error) *BackendError {
	var be *BackendError
	if errors.As(err, &be) {
		return be
	}
	return newTransientError(code, err)
}

// errorCode extracts a stable code for UI callbacks and metrics labels.
func errorCode(err error) string {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Code
	}
	return "backend_error"
}
