package intake

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the intake engine and its adapters.
var (
	ErrProfileNotFound       = errors.New("profile not found")
	ErrCorruptSession        = errors.New("corrupt session")
	ErrInvalidSessionID      = errors.New("invalid session id")
	ErrInvalidAccountType    = errors.New("invalid account type")
	ErrInvalidFormField      = errors.New("invalid form field")
	ErrFieldReadOnly         = errors.New("field is read only")
	ErrEditRejected          = errors.New("edit rejected")
	ErrFormIncomplete        = errors.New("form incomplete")
	ErrFormSubmitted         = errors.New("form already submitted")
	ErrDuplicateApplication  = errors.New("duplicate application")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
	ErrInvalidProfilePayload = errors.New("invalid profile payload")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
