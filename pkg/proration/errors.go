package proration

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced to callers so they can distinguish fixable
// input problems from provider failures.
const (
	CodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	CodePlanNotFound         = "PLAN_NOT_FOUND"
	CodePlanInactive         = "PLAN_INACTIVE"
	CodeIntervalMismatch     = "INTERVAL_MISMATCH"
	CodeCalculationFailed    = "CALCULATION_FAILED"
	CodeStripePreviewFailed  = "STRIPE_PREVIEW_FAILED"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrInvalidServiceConfig = errors.New("invalid proration service config")
)

// ServiceError is a proration failure carrying a stable code.
type ServiceError struct {
	code string
	err  error
}

// Error returns the formatted error message.
func (serviceError ServiceError) Error() string {
	return fmt.Sprintf("proration %s: %v", serviceError.code, serviceError.err)
}

// Unwrap returns the underlying error.
func (serviceError ServiceError) Unwrap() error {
	return serviceError.err
}

// Code returns the stable error code.
func (serviceError ServiceError) Code() string {
	return serviceError.code
}

func newServiceError(code string, err error) error {
	if err == nil {
		return nil
	}
	return ServiceError{code: code, err: err}
}

// ErrorCode extracts the stable code from an error chain, or "" if absent.
func ErrorCode(err error) string {
	var serviceError ServiceError
	if errors.As(err, &serviceError) {
		return serviceError.Code()
	}
	return ""
}
