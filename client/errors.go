package client

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the kind of failure a CredentialsManager operation hit
type ErrorCode string

const (
	CodeNoCredentials    ErrorCode = "no_credentials"
	CodeNoRefreshToken   ErrorCode = "no_refresh_token"
	CodeRefreshFailed    ErrorCode = "refresh_failed"
	CodeBiometricsFailed ErrorCode = "biometrics_failed"
	CodeStorageFailure   ErrorCode = "storage_failure"
	CodeRevokeFailed     ErrorCode = "revoke_failed"
	CodeLargeMinTTL      ErrorCode = "large_min_ttl"
)

// Error is returned by every CredentialsManager operation that fails.
// Use errors.Is against the Err* values to branch on the code, and errors.As
// on the cause (for example *authentication.Error) for provider details.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on the error code only, so wrapped causes do not matter.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinel values for errors.Is comparisons
var (
	ErrNoCredentials    = &Error{Code: CodeNoCredentials}
	ErrNoRefreshToken   = &Error{Code: CodeNoRefreshToken}
	ErrRefreshFailed    = &Error{Code: CodeRefreshFailed}
	ErrBiometricsFailed = &Error{Code: CodeBiometricsFailed}
	ErrStorageFailure   = &Error{Code: CodeStorageFailure}
	ErrRevokeFailed     = &Error{Code: CodeRevokeFailed}
	ErrLargeMinTTL      = &Error{Code: CodeLargeMinTTL}
)

// ErrBiometricsUnavailable is the cause reported when the device cannot
// evaluate a biometric or passcode check at all.
var ErrBiometricsUnavailable = errors.New("biometric authentication is not available")

func newError(code ErrorCode, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

func newErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
