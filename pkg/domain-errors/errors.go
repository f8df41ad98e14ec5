// Package domainerrors defines structured domain errors for the attendance
// core. Import it aliased as dErrors.
//
// Verification and business-rule failures are values, not control flow: every
// failure carries a Code from a closed enumeration so callers can branch on
// kind at the call site, and handlers can translate to HTTP without string
// matching. Construct with New; inspect with HasCode.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code identifies the kind of domain error.
type Code string

const (
	// Verification failures (matcher contract).
	CodeNoFaceDetected        Code = "no_face_detected"
	CodeMultipleFacesDetected Code = "multiple_faces_detected"
	CodeNoEnrollment          Code = "no_enrollment"
	CodeLowConfidence         Code = "low_confidence"

	// Ledger business rules.
	CodeAlreadyClockedIn Code = "already_clocked_in"
	CodeNotClockedIn     Code = "not_clocked_in"
	CodeInvalidTiming    Code = "invalid_timing"
	CodeSessionNotFound  Code = "session_not_found"

	// Generic.
	CodeInvalidInput     Code = "invalid_input"
	CodeBadRequest       Code = "bad_request"
	CodeNotFound         Code = "not_found"
	CodePermissionDenied Code = "permission_denied"
	CodeUnauthorized     Code = "unauthorized"
	CodeInternal         Code = "internal_error"
)

// Error is a domain error with a machine-readable code and a human-readable
// message. Verification errors additionally carry the raw similarity so
// callers can decide between "retry with a new probe" and a structural block.
type Error struct {
	Code    Code
	Message string

	// Confidence is the raw similarity for low_confidence failures; nil for
	// every other code.
	Confidence *float64
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// New constructs a domain error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithConfidence attaches the raw similarity score to a verification error.
func (e *Error) WithConfidence(score float64) *Error {
	e.Confidence = &score
	return e
}

// HasCode reports whether err is (or wraps) a domain error with the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the domain code from err, defaulting to CodeInternal for
// unclassified errors so nothing leaks internals to clients.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain code to its HTTP status. Verification failures
// are 401 per the external contract: the caller presented a probe that did
// not prove the claimed identity.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeNoFaceDetected, CodeMultipleFacesDetected, CodeNoEnrollment, CodeLowConfidence:
		return http.StatusUnauthorized
	case CodeAlreadyClockedIn, CodeNotClockedIn, CodeInvalidTiming, CodeBadRequest, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeSessionNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
