package ledger

import (
	"fmt"
	"math"

	"github.com/fastprodman/purchaseledger/internal/repos/journal"
)

// Apply folds a journal record into memory without writing anything. It is
// meant for replay before the ledger serves traffic and must not run
// concurrently with Reserve, Commit, Rollback or Deposit.
//
// A record that could not have been produced by a live ledger in the current
// state yields ErrCorruptJournal.
func (l *Ledger) Apply(rec journal.Record) error {
	err := rec.Validate()
	if err != nil {
		return fmt.Errorf("%w: seq %d: %w", ErrCorruptJournal, rec.Sequence, err)
	}

	acc := l.account(accountKey{rec.SteamID, rec.CurrencyID})

	switch rec.Kind {
	case journal.KindOpened:
		return l.applyOpened(acc, rec)
	case journal.KindCredited:
		return l.applyCredited(acc, rec)
	case journal.KindReserved:
		return l.applyReserved(acc, rec)
	case journal.KindCommitted, journal.KindRolledBack:
		return l.applySettled(acc, rec)
	default:
		return corrupt(rec, "unknown kind")
	}
}

func corrupt(rec journal.Record, reason string) error {
	return fmt.Errorf("%w: seq %d (%s %s/%s): %s",
		ErrCorruptJournal, rec.Sequence, rec.Kind, rec.SteamID, rec.CurrencyID, reason)
}

func (l *Ledger) applyOpened(acc *account, rec journal.Record) error {
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if acc.opened {
		return corrupt(rec, "account opened twice")
	}

	acc.opened = true
	acc.balance = rec.Amount

	return nil
}

func (l *Ledger) applyCredited(acc *account, rec journal.Record) error {
	pending := l.pendingAmount(acc)

	acc.mu.Lock()
	defer acc.mu.Unlock()

	if !acc.opened {
		return corrupt(rec, "credit before open")
	}

	if acc.balance > math.MaxInt64-rec.Amount-pending {
		return corrupt(rec, "credit overflows balance")
	}

	acc.balance += rec.Amount

	return nil
}

func (l *Ledger) applyReserved(acc *account, rec journal.Record) error {
	id := ReservationID(rec.ReservationID)

	l.resMu.RLock()
	_, seen := l.reservations[id]
	l.resMu.RUnlock()

	if seen {
		return corrupt(rec, fmt.Sprintf("reservation %d reused", id))
	}

	acc.mu.Lock()
	switch {
	case !acc.opened:
		acc.mu.Unlock()
		return corrupt(rec, "reserve before open")
	case acc.pending != 0:
		acc.mu.Unlock()
		return corrupt(rec, fmt.Sprintf("reservation %d still pending", acc.pending))
	case acc.balance < rec.Amount:
		acc.mu.Unlock()
		return corrupt(rec, fmt.Sprintf("balance %d below reserved %d", acc.balance, rec.Amount))
	}

	acc.balance -= rec.Amount
	acc.pending = id
	acc.mu.Unlock()

	l.resMu.Lock()
	l.reservations[id] = &Reservation{
		ID:         id,
		SteamID:    rec.SteamID,
		CurrencyID: rec.CurrencyID,
		Amount:     rec.Amount,
		State:      StatePending,
		CreatedAt:  rec.Timestamp,
	}
	l.resMu.Unlock()

	if uint64(id) > l.lastID.Load() {
		l.lastID.Store(uint64(id))
	}

	return nil
}

func (l *Ledger) applySettled(acc *account, rec journal.Record) error {
	id := ReservationID(rec.ReservationID)

	l.resMu.RLock()
	res, ok := l.reservations[id]
	l.resMu.RUnlock()

	switch {
	case !ok:
		return corrupt(rec, fmt.Sprintf("unknown reservation %d", id))
	case res.State != StatePending:
		return corrupt(rec, fmt.Sprintf("reservation %d already %s", id, res.State))
	case res.SteamID != rec.SteamID || res.CurrencyID != rec.CurrencyID:
		return corrupt(rec, fmt.Sprintf("reservation %d belongs to %s/%s", id, res.SteamID, res.CurrencyID))
	case res.Amount != rec.Amount:
		return corrupt(rec, fmt.Sprintf("reservation %d amount %d", id, res.Amount))
	}

	l.applySettle(acc, res, rec.Kind, rec)

	return nil
}
