package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrJobConflict       = errors.New("job id belongs to another owner")
	ErrJobTerminal       = errors.New("job already terminal")
	ErrLeaseHeld         = errors.New("job lease held by another worker")
	ErrDuplicateEntry    = errors.New("duplicate ledger entry")
	ErrProviderFailure   = errors.New("provider failure")
)
