// Package errs provides the error taxonomy shared across the
// acquisition and alerting pipeline.
package errs

import (
	"errors"
	"fmt"
)

// AcquisitionError wraps a failure while obtaining metric data.
// Transient failures (network, 5xx, timeouts, missing downloads) may be
// retried; permanent ones (rejected credentials, malformed schema)
// abort immediately.
type AcquisitionError struct {
	Op        string
	Transient bool
	Err       error
	// Artifact points at a diagnostics capture (screenshot/page
	// state) written while the failure was observed, if any.
	Artifact string
}

func (e *AcquisitionError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("acquisition %s (%s): %v", e.Op, kind, e.Err)
	}
	return fmt.Sprintf("acquisition %s (%s)", e.Op, kind)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// TransientAcquisition builds a retryable acquisition error.
func TransientAcquisition(op string, err error) *AcquisitionError {
	return &AcquisitionError{Op: op, Transient: true, Err: err}
}

// PermanentAcquisition builds a non-retryable acquisition error.
func PermanentAcquisition(op string, err error) *AcquisitionError {
	return &AcquisitionError{Op: op, Transient: false, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is a
// retryable acquisition failure.
func IsTransient(err error) bool {
	var acq *AcquisitionError
	if errors.As(err, &acq) {
		return acq.Transient
	}
	return false
}

// ExhaustedError is returned once every retry attempt has failed. It
// carries the last underlying error and the diagnostics location, when
// one was captured.
type ExhaustedError struct {
	Attempts     int
	Last         error
	ArtifactPath string
}

func (e *ExhaustedError) Error() string {
	if e.ArtifactPath != "" {
		return fmt.Sprintf("exhausted %d attempts (diagnostics: %s): %v", e.Attempts, e.ArtifactPath, e.Last)
	}
	return fmt.Sprintf("exhausted %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// IsExhausted reports whether err wraps an ExhaustedError.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// ParseError marks a malformed report row. Parse errors are recovered
// locally: the row is dropped and counted, never escalated.
type ParseError struct {
	Row   int
	Field string
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d: unparseable %s %q", e.Row, e.Field, e.Value)
}

// DeliveryError wraps an alert sink failure. Delivery failures are
// logged and the run still completes.
type DeliveryError struct {
	Sink string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Sink, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
