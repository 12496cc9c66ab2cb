package types

import (
	"errors"
	"fmt"
)

// Error types
type X402Error struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Cause      error       `json:"-"`
}

func (e *X402Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *X402Error) Unwrap() error {
	return e.Cause
}

// Is matches any X402Error carrying the same code.
func (e *X402Error) Is(target error) bool {
	var t *X402Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Common error codes
const (
	ErrInvalidURL               = "INVALID_URL"
	ErrInvalidAmount            = "INVALID_AMOUNT"
	ErrInvalidAddress           = "INVALID_ADDRESS"
	ErrInvalidPayload           = "INVALID_PAYLOAD"
	ErrUnsupportedNetwork       = "UNSUPPORTED_NETWORK"
	ErrNoWalletConfigured       = "NO_WALLET_CONFIGURED"
	ErrVerificationFailed       = "PAYMENT_VERIFICATION_FAILED"
	ErrReplayDetected           = "REPLAY_DETECTED"
	ErrFacilitator              = "FACILITATOR_ERROR"
	ErrSettlementTimeout        = "SETTLEMENT_TIMEOUT"
	ErrRateLimited              = "RATE_LIMITED"
	ErrPaymentAborted           = "PAYMENT_ABORTED"
	ErrMalformedPaymentRequired = "MALFORMED_PAYMENT_REQUIRED"
	ErrAmountExceedsLimit       = "AMOUNT_EXCEEDS_LIMIT"
	ErrConfigError              = "CONFIG_ERROR"
	ErrPaymentCreationFailed    = "PAYMENT_CREATION_FAILED"
)

// Facilitator status codes used when no HTTP response was received.
const (
	StatusCodeTransport = 0
	StatusCodeTimeout   = 408
)

// NewError creates an X402Error with a formatted message.
func NewError(code string, format string, args ...interface{}) *X402Error {
	return &X402Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an X402Error around a cause.
func WrapError(code string, cause error, format string, args ...interface{}) *X402Error {
	return &X402Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsCode reports whether err is an X402Error with the given code.
func IsCode(err error, code string) bool {
	var xe *X402Error
	if errors.As(err, &xe) {
		return xe.Code == code
	}
	return false
}

// ErrorCode extracts the code from an X402Error, or "".
func ErrorCode(err error) string {
	var xe *X402Error
	if errors.As(err, &xe) {
		return xe.Code
	}
	return ""
}
