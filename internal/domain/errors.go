package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repo and service functions when the requested
// document does not exist in the store.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. missing phone number, unknown role).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrActiveTrip is returned when a user who is still bound to an active trip
// tries to start another one. The previous trip must be ended first.
var ErrActiveTrip = errors.New("user already has an active trip")

// ErrTripCompleted is returned when an operation would move a completed trip
// back into another status.
var ErrTripCompleted = errors.New("trip already completed")

// ErrNotParticipant is returned when the acting user is neither the driver
// nor the hitchhiker on the trip.
var ErrNotParticipant = errors.New("user is not a trip participant")

// ErrPersistence wraps every failure reported by the document store.
// It marks the critical path: callers must surface it to the user.
var ErrPersistence = errors.New("persistence error")

// ErrLocationUnavailable is the sentinel matched by LocationUnavailable.
var ErrLocationUnavailable = errors.New("location unavailable")

// ErrRecording is returned by audio recorders and the recording session.
var ErrRecording = errors.New("recording error")

// ErrInvalidQRPayload is returned when a scanned QR code is not valid JSON
// or misses the userId / name fields.
var ErrInvalidQRPayload = errors.New("invalid qr payload")

// ErrAlertDispatch marks a single contact channel that could not be reached.
// It is only ever logged and reported, never returned from a fan-out.
var ErrAlertDispatch = errors.New("alert dispatch failure")

// Auth error codes, modelled on the codes the hosted identity provider used.
const (
	AuthInvalidEmail    = "auth/invalid-email"
	AuthWeakPassword    = "auth/weak-password"
	AuthEmailInUse      = "auth/email-already-in-use"
	AuthUserNotFound    = "auth/user-not-found"
	AuthWrongPassword   = "auth/wrong-password"
	AuthInvalidToken    = "auth/invalid-token"
	AuthNoCurrentUser   = "auth/no-current-user"
	AuthInvalidUserType = "auth/invalid-user-type"
)

// AuthError is returned by the identity provider.
type AuthError struct {
	Code string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error %s: %v", e.Code, e.Err)
	}
	return "auth error " + e.Code
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError builds an AuthError with the given code.
func NewAuthError(code string, err error) *AuthError {
	return &AuthError{Code: code, Err: err}
}

// LocationUnavailable reports why a position could not be acquired
// (timeout, permission denied, provider closed).
// errors.Is(err, ErrLocationUnavailable) matches it.
type LocationUnavailable struct {
	Reason string
}

func (e *LocationUnavailable) Error() string {
	return "location unavailable: " + e.Reason
}

func (e *LocationUnavailable) Is(target error) bool {
	return target == ErrLocationUnavailable
}
