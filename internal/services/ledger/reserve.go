package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fastprodman/purchaseledger/internal/repos/journal"
)

// Reserve holds amount of currencyID from steamID's balance.
//
// It fails with ErrReservationConflict while another reservation on the same
// key is pending, and with ErrInsufficientFunds when the balance cannot cover
// amount. On success the balance has already been reduced and the Reserved
// record is durable.
func (l *Ledger) Reserve(ctx context.Context, steamID, currencyID string, amount int64) (ReservationID, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	cur, err := l.resolve(steamID, currencyID)
	if err != nil {
		return 0, err
	}

	acc := l.account(accountKey{steamID, cur.ID})

	err = lock(ctx, acc)
	if err != nil {
		return 0, err
	}
	defer unlock(acc)

	acc.mu.RLock()
	pending := acc.pending
	acc.mu.RUnlock()

	if pending != 0 {
		return 0, fmt.Errorf("%w: reservation %d", ErrReservationConflict, pending)
	}

	balance := l.balanceOf(steamID, cur)
	if balance < amount {
		return 0, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFunds, balance, amount)
	}

	err = l.ensureOpened(ctx, acc, steamID, cur)
	if err != nil {
		return 0, err
	}

	id := ReservationID(l.lastID.Add(1))

	stored, err := l.append(ctx, journal.Record{
		Kind:          journal.KindReserved,
		ReservationID: uint64(id),
		SteamID:       steamID,
		CurrencyID:    cur.ID,
		Amount:        amount,
	})
	if err != nil {
		return 0, err
	}

	acc.mu.Lock()
	acc.balance -= amount
	acc.pending = id
	acc.mu.Unlock()

	l.resMu.Lock()
	l.reservations[id] = &Reservation{
		ID:         id,
		SteamID:    steamID,
		CurrencyID: cur.ID,
		Amount:     amount,
		State:      StatePending,
		CreatedAt:  stored.Timestamp,
	}
	l.resMu.Unlock()

	slog.Debug("funds reserved",
		"reservation_id", id, "steam_id", steamID, "currency_id", cur.ID,
		"amount", amount, "sequence", stored.Sequence)

	return id, nil
}
