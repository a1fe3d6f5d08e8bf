package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of probe failures.
type ErrorKind string

const (
	KindNone                       ErrorKind = ""
	KindTransportError             ErrorKind = "transport-error"
	KindTimeout                    ErrorKind = "timeout"
	KindStatusMismatch             ErrorKind = "status-mismatch"
	KindSchemaError                ErrorKind = "schema-error"
	KindAuthChallenged             ErrorKind = "auth-challenged"
	KindAuthFailed                 ErrorKind = "auth-failed"
	KindSessionNotSettled          ErrorKind = "session-not-settled"
	KindDOMAssertionFailed         ErrorKind = "dom-assertion-failed"
	KindFormSubmitFailed           ErrorKind = "form-submit-failed"
	KindScenarioPreconditionFailed ErrorKind = "scenario-precondition-failed"
	KindHarnessError               ErrorKind = "harness-error"
)

var allKinds = []ErrorKind{
	KindTransportError, KindTimeout, KindStatusMismatch, KindSchemaError,
	KindAuthChallenged, KindAuthFailed, KindSessionNotSettled,
	KindDOMAssertionFailed, KindFormSubmitFailed,
	KindScenarioPreconditionFailed, KindHarnessError,
}

// Valid reports whether k belongs to the taxonomy. KindNone is not valid.
func (k ErrorKind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Retryable reports whether a failure of this kind may be retried once.
// Timeouts are only retryable on idempotent probes; callers check that.
func (k ErrorKind) Retryable() bool {
	return k == KindTransportError || k == KindTimeout
}

// ProbeError carries an ErrorKind through ordinary error returns.
type ProbeError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *ProbeError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Errorf builds a ProbeError with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *ProbeError {
	return &ProbeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a ProbeError around err.
func Wrap(kind ErrorKind, msg string, err error) *ProbeError {
	return &ProbeError{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the ErrorKind from err. Deadline errors map to timeout,
// other unclassified errors to transport-error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransportError
}
