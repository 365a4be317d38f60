package faucetd

import (
	"errors"
	"net/http"
)

// Kind classifies a disbursement failure.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindPolicy              Kind = "policy"
	KindVerification        Kind = "verification"
	KindExecution           Kind = "execution"
	KindSimulation          Kind = "simulation"
	KindConfirmationTimeout Kind = "confirmation_timeout"
	KindUnavailable         Kind = "unavailable"
)

// Public messages returned to callers.
const (
	MsgTokenMissing       = "reCAPTCHA token is missing"
	MsgAddressMissing     = "address is missing"
	MsgAddressInvalid     = "address is invalid"
	MsgVerificationFailed = "reCAPTCHA verification failed"
	MsgRateLimited        = "faucet usage limited exceeded (1 per hour)"
	MsgInternal           = "Internal server error"
	MsgPaused             = "faucet is paused"
	MsgSuccess            = "Form submitted successfully"
)

// ErrProcessorPaused is returned when a disbursement is attempted while the
// processor is paused.
var ErrProcessorPaused = errors.New("faucetd: processor paused")

// Error carries the failure kind, the public message and the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindExecution for untyped errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindExecution
}

// HTTPStatus maps an error to the public status code and message. Internal
// kinds never leak their detail.
func HTTPStatus(err error) (int, string) {
	var fe *Error
	if !errors.As(err, &fe) {
		return http.StatusInternalServerError, MsgInternal
	}
	switch fe.Kind {
	case KindValidation, KindPolicy, KindVerification:
		return http.StatusBadRequest, fe.Message
	case KindUnavailable:
		return http.StatusServiceUnavailable, MsgPaused
	default:
		return http.StatusInternalServerError, MsgInternal
	}
}
