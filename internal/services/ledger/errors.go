package ledger

import (
	"errors"

	"github.com/fastprodman/purchaseledger/internal/config"
)

var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrReservationConflict = errors.New("reservation already pending for account")
	ErrNotFound            = errors.New("reservation not found")
	ErrInvalidState        = errors.New("reservation not pending")
	ErrTimeout             = errors.New("timed out waiting for account")
	ErrPersistence         = errors.New("journal append failed")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidAccount      = errors.New("steam id required")
	ErrCorruptJournal      = errors.New("journal inconsistent with ledger state")

	ErrUnknownCurrency = config.ErrUnknownCurrency
)
