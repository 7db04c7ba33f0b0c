package manager

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/chaz8081/wearlink/internal/ble"
)

// Code is a machine-readable error code returned to bridge clients.
type Code string

const (
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodePermission        Code = "PERMISSION_ERROR"
	CodeBluetoothDisabled Code = "BLUETOOTH_DISABLED"
	CodeConnectFailed     Code = "CONNECT_FAILED"
	CodeNotifyFailed      Code = "NOTIFY_FAILED"
	CodeOperationTimeout  Code = "OPERATION_TIMEOUT"
	CodeBluetoothError    Code = "BLUETOOTH_ERROR"
	CodeUnsupported       Code = "UNSUPPORTED"
	CodeUnknownStatus     Code = "UNKNOWN_STATUS"
	CodeScanThrottled     Code = "SCAN_THROTTLED"
	CodeScanUnavailable   Code = "SCAN_UNAVAILABLE"
	CodeNotImplemented    Code = "NOT_IMPLEMENTED"
)

// Error is a failure scoped to a single call. Nothing that returns an Error
// leaves the manager unusable.
type Error struct {
	Code    Code
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates an Error without an underlying cause.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf returns the Code carried by err, or CodeBluetoothError when err is
// not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeBluetoothError
}

// rootCause follows the Unwrap chain to the innermost error.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// operatorError converts an operator failure into an *Error. Errors that
// already are *Error pass through unchanged.
func operatorError(action string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, ble.ErrUnsupported) {
		return &Error{
			Code:    CodeUnsupported,
			Message: fmt.Sprintf("%s is not supported on this device", action),
			Err:     err,
		}
	}
	return &Error{
		Code:    CodeBluetoothError,
		Message: fmt.Sprintf("Error during %s: %s", action, rootCause(err).Error()),
		Err:     err,
	}
}

// operatorCall runs fn against the operator. A returned error or a panic
// inside the operator becomes an *Error describing action.
func operatorCall(action string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("%v", r)
			}
			slog.Error("[BT] operator panicked", "action", action, "panic", r)
			err = operatorError(action, cause)
		}
	}()
	if err := fn(); err != nil {
		return operatorError(action, err)
	}
	return nil
}
