package models

import (
	"errors"
	"fmt"
)

// ErrValidation matches every *ValidationError through errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError reports malformed or out-of-range input. It is always returned before the
// store is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Domain errors. None of them leaves a partial mutation behind.
var (
	// Accounts
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountInactive   = errors.New("account is not active")
	ErrInsufficientFunds = errors.New("insufficient funds")

	// Transfers
	ErrRecipientNotFound           = errors.New("recipient not found")
	ErrSelfTransfer                = errors.New("cannot transfer to yourself")
	ErrRecipientAccountUnavailable = errors.New("recipient account not found or not active")
	ErrSameAccount                 = errors.New("source and destination accounts must differ")
	ErrDuplicateReference          = errors.New("could not generate a unique reference number")
	ErrCurrencyMismatch            = errors.New("source and destination accounts use different currencies")

	// Loans
	ErrLoanNotFound          = errors.New("loan not found")
	ErrLoanNotActive         = errors.New("loan is not active")
	ErrNoPendingInstallments = errors.New("no pending installments")

	// Applications and reviews
	ErrApplicationNotFound     = errors.New("application not found")
	ErrDuplicateApplication    = errors.New("a pending application for this card type already exists")
	ErrNotPending              = errors.New("only pending items can be reviewed")
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("a user with this email already exists")

	// ErrConcurrencyConflict is surfaced when a competing mutation kept winning after every retry.
	ErrConcurrencyConflict = errors.New("concurrent modification, please retry")
)

// NewValidationError is a shorthand for building a *ValidationError.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
