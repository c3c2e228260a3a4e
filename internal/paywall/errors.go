package paywall

import (
	"fmt"

	"github.com/mbd888/taskgate/internal/x402"
)

// ErrorKind classifies validation failures into the HTTP status they map to.
type ErrorKind int

const (
	// KindUnauthorized means the request carried no usable credentials.
	KindUnauthorized ErrorKind = iota
	// KindPaymentRequired means credentials were present but payment
	// verification rejected them.
	KindPaymentRequired
	// KindBadRequest means the request itself was malformed.
	KindBadRequest
	// KindInternal means validation itself failed.
	KindInternal
)

// Error is a validation failure. PaymentRequired failures carry the x402
// descriptor telling the caller how to pay.
type Error struct {
	Kind            ErrorKind
	Message         string
	PaymentRequired *x402.PaymentRequired
	cause           error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("paywall: %s: %v", e.Message, e.cause)
	}
	return "paywall: " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Unauthorized builds a missing-credentials failure.
func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// PaymentRequiredError builds a payment-rejected failure carrying the
// descriptor the caller needs to obtain access.
func PaymentRequiredError(msg string, pr *x402.PaymentRequired) *Error {
	return &Error{Kind: KindPaymentRequired, Message: msg, PaymentRequired: pr}
}

// BadRequest builds a malformed-request failure.
func BadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Message: msg}
}

// Internal wraps an unexpected validation failure.
func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, cause: cause}
}
