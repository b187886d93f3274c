package purchase

import (
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/purchaseledger/internal/repos/journal"
	"github.com/fastprodman/purchaseledger/internal/services/ledger"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrGrantFailed    = errors.New("item grant failed")
	ErrTimeout        = ledger.ErrTimeout
)

// RateLimitError is returned for a denied rate check. It matches ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Millisecond))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Kind is the machine-readable failure reason reported to callers.
type Kind string

const (
	KindNone                Kind = ""
	KindInvalidRequest      Kind = "InvalidRequest"
	KindRateLimited         Kind = "RateLimited"
	KindInsufficientFunds   Kind = "InsufficientFunds"
	KindReservationConflict Kind = "ReservationConflict"
	KindTimeout             Kind = "Timeout"
	KindPersistenceFailure  Kind = "PersistenceFailure"
	KindGrantFailed         Kind = "GrantFailed"
	KindNotFound            Kind = "NotFound"
	KindInvalidState        Kind = "InvalidState"
	KindInternal            Kind = "Internal"
)

// KindOf classifies err. A nil error has KindNone; anything unrecognised is
// KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAccount),
		errors.Is(err, ledger.ErrUnknownCurrency):
		return KindInvalidRequest
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ledger.ErrReservationConflict):
		return KindReservationConflict
	// Checked before timeouts: a rollback that could not be journaled
	// outranks the deadline that triggered it.
	case errors.Is(err, ledger.ErrPersistence),
		errors.Is(err, journal.ErrClosed):
		return KindPersistenceFailure
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrGrantFailed):
		return KindGrantFailed
	case errors.Is(err, ledger.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ledger.ErrInvalidState):
		return KindInvalidState
	default:
		return KindInternal
	}
}
