package credits

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the deduction service.
var (
	ErrInsufficientCredits      = errors.New("insufficient credits")
	ErrWorkspaceNotFound        = errors.New("workspace not found")
	ErrWorkspaceExists          = errors.New("workspace already exists")
	ErrConsumeExceedsAllocation = errors.New("consume exceeds allocation")
	ErrReleaseExceedsAllocation = errors.New("release exceeds allocation")
	ErrInvalidWorkspaceID       = errors.New("invalid workspace id")
	ErrInvalidCreditAmount      = errors.New("invalid credit amount")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
	ErrInvalidLedgerState       = errors.New("invalid ledger state")
)

// InsufficientCreditsError reports the exact shortfall for an allocation so
// callers can surface an actionable message. It matches ErrInsufficientCredits
// through errors.Is.
type InsufficientCreditsError struct {
	WorkspaceID WorkspaceID
	Required    int64
	Available   int64
}

// Error returns the formatted error message.
func (insufficientError InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: workspace %s requires %d, available %d",
		insufficientError.WorkspaceID.String(), insufficientError.Required, insufficientError.Available)
}

// Is reports whether target is the insufficient-credits sentinel.
func (insufficientError InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

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
