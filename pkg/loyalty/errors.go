package loyalty

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the loyalty service.
var (
	ErrInsufficientPoints       = errors.New("insufficient points")
	ErrBelowMinimumRedemption   = errors.New("below minimum redemption")
	ErrNotRedemptionIncrement   = errors.New("points not a multiple of redemption increment")
	ErrUnknownRedemption        = errors.New("unknown redemption")
	ErrRedemptionClosed         = errors.New("redemption closed")
	ErrDuplicateIdempotencyKey  = errors.New("duplicate idempotency key")
	ErrRedemptionExists         = errors.New("redemption already exists")
	ErrReferralExists           = errors.New("referral already exists")
	ErrUnknownReferral          = errors.New("unknown referral")
	ErrReferralClosed           = errors.New("referral already completed")
	ErrSettingsNotFound         = errors.New("loyalty settings row not found")
	ErrInvalidClientID          = errors.New("invalid client id")
	ErrInvalidRedemptionID      = errors.New("invalid redemption id")
	ErrInvalidIdempotencyKey    = errors.New("invalid idempotency key")
	ErrInvalidPoints            = errors.New("invalid points")
	ErrInvalidSettings          = errors.New("invalid loyalty settings")
	ErrInvalidTransactionType   = errors.New("invalid transaction type")
	ErrInvalidRedemptionStatus  = errors.New("invalid redemption status")
	ErrInvalidMetadataJSON      = errors.New("invalid metadata json")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
	ErrInvalidBalance           = errors.New("invalid balance")
	ErrRateLookupUnavailable    = errors.New("rate lookup unavailable")
	ErrDiscountRPCUnavailable   = errors.New("available discount rpc unavailable")
	ErrInvalidConversionRequest = errors.New("invalid conversion request")
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
