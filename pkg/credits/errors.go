package credits

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the credits service.
var (
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrUnknownSession        = errors.New("unknown session")
	ErrUnknownQuestion       = errors.New("unknown question")
	ErrSessionExists         = errors.New("session already exists")
	ErrQuestionClosed        = errors.New("question closed")
	ErrInvalidGuestID        = errors.New("invalid guest id")
	ErrInvalidSessionID      = errors.New("invalid session id")
	ErrInvalidHostID         = errors.New("invalid host id")
	ErrInvalidPaymentURL     = errors.New("invalid payment url")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidAssetCode      = errors.New("invalid asset code")
	ErrInvalidAssetScale     = errors.New("invalid asset scale")
	ErrInvalidQuestionText   = errors.New("invalid question text")
	ErrInvalidQuestionStatus = errors.New("invalid question status")
	ErrInvalidQuestionPrice  = errors.New("invalid question price")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
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
