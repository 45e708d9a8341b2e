package domain

import "errors"

var (
	// Congregation errors
	ErrCongregationNotFound = errors.New("congregation not found")
	ErrCongregationInactive = errors.New("congregation is inactive")
	ErrCongregationNotEmpty = errors.New("congregation still has transactions or a non-zero balance")

	// Transaction errors
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrAlreadyApproved         = errors.New("transaction is already approved")
	ErrInvalidAmount           = errors.New("amount must be a non-negative value with at most two decimal places")
	ErrInvalidKind             = errors.New("invalid transaction kind")
	ErrInvalidCategory         = errors.New("invalid transaction category")
	ErrInvalidPaymentMethod    = errors.New("invalid payment method")
	ErrInvalidStatus           = errors.New("invalid transaction status")
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// Store errors
	ErrStoreUnavailable = errors.New("store unavailable")
)
