package protocol

import (
	"errors"
	"fmt"
)

// Code identifies an error condition in the daemon taxonomy. Codes are
// logical names; Number maps them to the integers carried on the wire.
type Code string

const (
	CodeNotConnected        Code = "NOT_CONNECTED"
	CodeRequestTimeout      Code = "REQUEST_TIMEOUT"
	CodeMethodUnknown       Code = "METHOD_UNKNOWN"
	CodeInvalidParams       Code = "INVALID_PARAMS"
	CodeChannelNotFound     Code = "CHANNEL_NOT_FOUND"
	CodeChannelDuplicate    Code = "CHANNEL_DUPLICATE"
	CodeChannelState        Code = "CHANNEL_STATE_INVALID"
	CodeAgentNotFound       Code = "AGENT_NOT_FOUND"
	CodeAgentState          Code = "AGENT_STATE_INVALID"
	CodeAdapterMismatch     Code = "AGENT_ADAPTER_MISMATCH"
	CodeSubscriptionUnknown Code = "SUBSCRIPTION_UNKNOWN"
	CodeDuplicateStep       Code = "DUPLICATE_STEP"
	CodeSuspended           Code = "SUSPENDED"
	CodeAdapterAPI          Code = "ADAPTER_API_ERROR"
	CodeConfigInvalid       Code = "CONFIG_INVALID"
	CodeShutdown            Code = "SHUTDOWN_IN_PROGRESS"
	CodeInternal            Code = "INTERNAL"
)

// codeNumbers assigns stable wire integers. CodeSuspended and
// CodeDuplicateStep are internal and never cross the wire, but get numbers
// so an accidental leak is still a well-formed frame.
var codeNumbers = map[Code]int{
	CodeNotConnected:        1000,
	CodeRequestTimeout:      1001,
	CodeMethodUnknown:       1002,
	CodeInvalidParams:       1003,
	CodeChannelNotFound:     1100,
	CodeChannelDuplicate:    1101,
	CodeChannelState:        1102,
	CodeAgentNotFound:       1200,
	CodeAgentState:          1201,
	CodeAdapterMismatch:     1202,
	CodeSubscriptionUnknown: 1300,
	CodeDuplicateStep:       1400,
	CodeSuspended:           1401,
	CodeAdapterAPI:          1500,
	CodeConfigInvalid:       1600,
	CodeShutdown:            1700,
	CodeInternal:            1999,
}

// Number returns the wire integer for the code.
func (c Code) Number() int {
	if n, ok := codeNumbers[c]; ok {
		return n
	}
	return codeNumbers[CodeInternal]
}

// ErrorPayload is the wire shape of a response error.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error is a structured daemon error carrying a taxonomy code, an optional
// cause, and optional structured context for the wire.
type Error struct {
	Code    Code
	Message string
	Data    any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by taxonomy code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// Payload converts the error to its wire shape.
func (e *Error) Payload() *ErrorPayload {
	return &ErrorPayload{Code: e.Code.Number(), Message: e.Message, Data: e.Data}
}

// NewError builds a structured error.
func NewError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Errorf builds a structured error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError converts any error to a structured daemon error, defaulting to
// CodeInternal for untyped errors.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Message: err.Error(), Err: err}
}
