// Package common defines shared sentinel errors and small helpers used across
// otpkeeper layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal      = errors.New("internal error")
	ErrorInvalidColumn = errors.New("invalid column")

	// ErrConnectionUnavailable reports that the remote primary could not be
	// reached within the configured timeout and retry budget.
	ErrConnectionUnavailable = errors.New("connection unavailable")

	// Replica health errors. Both must reach the alert sink.
	ErrIntegrityViolation = errors.New("integrity violation")
	ErrDriftDetected      = errors.New("drift detected")

	// ErrEncryptionFailure is returned when an emergency document cannot be
	// sealed or opened.
	ErrEncryptionFailure = errors.New("encryption failure")
)
