package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fastprodman/purchaseledger/internal/repos/journal"
)

// Commit makes a pending reservation final. The balance is not touched; it
// was reduced when the funds were reserved.
func (l *Ledger) Commit(ctx context.Context, id ReservationID) error {
	return l.settle(ctx, id, journal.KindCommitted)
}

// Rollback cancels a pending reservation and returns its amount to the balance.
func (l *Ledger) Rollback(ctx context.Context, id ReservationID) error {
	return l.settle(ctx, id, journal.KindRolledBack)
}

func (l *Ledger) settle(ctx context.Context, id ReservationID, kind journal.Kind) error {
	l.resMu.RLock()
	res, ok := l.reservations[id]
	l.resMu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	// Key fields of a reservation never change, so reading them unlocked is safe.
	acc := l.account(accountKey{res.SteamID, res.CurrencyID})

	err := lock(ctx, acc)
	if err != nil {
		return err
	}
	defer unlock(acc)

	l.resMu.RLock()
	state := res.State
	l.resMu.RUnlock()

	if state != StatePending {
		return fmt.Errorf("%w: reservation %d is %s", ErrInvalidState, id, state)
	}

	stored, err := l.append(ctx, journal.Record{
		Kind:          kind,
		ReservationID: uint64(id),
		SteamID:       res.SteamID,
		CurrencyID:    res.CurrencyID,
		Amount:        res.Amount,
	})
	if err != nil {
		return err
	}

	l.applySettle(acc, res, kind, stored)

	slog.Debug("reservation settled",
		"reservation_id", id, "steam_id", res.SteamID, "currency_id", res.CurrencyID,
		"state", kind.String(), "sequence", stored.Sequence)

	return nil
}

// applySettle moves res out of Pending. Shared by live settlement and replay.
func (l *Ledger) applySettle(acc *account, res *Reservation, kind journal.Kind, rec journal.Record) {
	acc.mu.Lock()
	if kind == journal.KindRolledBack {
		acc.balance += res.Amount
	}
	acc.pending = 0
	acc.mu.Unlock()

	l.resMu.Lock()
	if kind == journal.KindRolledBack {
		res.State = StateRolledBack
	} else {
		res.State = StateCommitted
	}
	res.SettledAt = rec.Timestamp
	l.resMu.Unlock()
}
