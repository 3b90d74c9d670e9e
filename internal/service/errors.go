package service

import (
	"errors"
	"fmt"

	"kiosk-service/internal/repository"
)

// Error classes. Every sentinel below wraps exactly one of them; transport maps the class.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = repository.ErrUnavailable

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

var (
	ErrProductNotFound     = fmt.Errorf("%w: product not found", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("%w: transaction not found", ErrNotFound)

	ErrInvalidQuantity   = fmt.Errorf("%w: quantity must be > 0", ErrValidation)
	ErrInvalidDelta      = fmt.Errorf("%w: delta must not be 0", ErrValidation)
	ErrInvalidTarget     = fmt.Errorf("%w: target balance must be >= 0", ErrValidation)
	ErrNegativeRestock   = fmt.Errorf("%w: manual_restock cannot remove stock, use manual_correction", ErrValidation)
	ErrInvalidReason     = fmt.Errorf("%w: reason must be manual_restock or manual_correction", ErrValidation)
	ErrInvalidThreshold  = fmt.Errorf("%w: threshold must be between 1 and 99", ErrValidation)
	ErrEmptyItems        = fmt.Errorf("%w: transaction items empty", ErrValidation)
	ErrInactiveProduct   = fmt.Errorf("%w: product is inactive", ErrValidation)
	ErrInvalidResolution = fmt.Errorf("%w: resolution must be confirm or refund", ErrValidation)
	ErrMissingActor      = fmt.Errorf("%w: actor id required", ErrValidation)

	ErrTrackingDisabled          = fmt.Errorf("%w: inventory tracking is disabled", ErrConflict)
	ErrTransactionTerminal       = fmt.Errorf("%w: transaction is in a terminal state", ErrConflict)
	ErrInvalidTransition         = fmt.Errorf("%w: transition not allowed from current state", ErrConflict)
	ErrConfirmationWindowElapsed = fmt.Errorf("%w: confirmation window elapsed", ErrConflict)
	ErrConfirmationFailed        = fmt.Errorf("%w: confirmation could not be recorded", ErrConflict)

	// ErrPaymentUncertain is returned with the transaction when the confirmation
	// could not be recorded and the payment now awaits manual reconciliation.
	ErrPaymentUncertain = errors.New("payment uncertain, awaiting reconciliation")
)

// errTransitionLost rolls back a unit of work whose conditional status update matched no row.
var errTransitionLost = errors.New("transition lost to a concurrent writer")
