package domain

import "errors"

var (
	ErrAccountNotFound         = errors.New("account not found")
	ErrInvalidTransition       = errors.New("invalid account status transition")
	ErrStatusConflict          = errors.New("account status changed concurrently")
	ErrRecalculationInProgress = errors.New("running balance recalculation already in progress")
	ErrUnknownProviderStatus   = errors.New("unknown provider account status")
	ErrCurrencyMismatch        = errors.New("accounts use different currencies")
)
