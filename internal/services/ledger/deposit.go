package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/fastprodman/purchaseledger/internal/repos/journal"
)

// Deposit credits amount to an account key. It is the administrative top-up
// path and waits on the same critical section as Reserve.
func (l *Ledger) Deposit(ctx context.Context, steamID, currencyID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	cur, err := l.resolve(steamID, currencyID)
	if err != nil {
		return err
	}

	acc := l.account(accountKey{steamID, cur.ID})

	err = lock(ctx, acc)
	if err != nil {
		return err
	}
	defer unlock(acc)

	// A pending amount returns to the balance on rollback, so it counts too.
	if l.balanceOf(steamID, cur) > math.MaxInt64-amount-l.pendingAmount(acc) {
		return fmt.Errorf("%w: deposit of %d overflows balance", ErrInvalidAmount, amount)
	}

	err = l.ensureOpened(ctx, acc, steamID, cur)
	if err != nil {
		return err
	}

	stored, err := l.append(ctx, journal.Record{
		Kind:       journal.KindCredited,
		SteamID:    steamID,
		CurrencyID: cur.ID,
		Amount:     amount,
	})
	if err != nil {
		return err
	}

	acc.mu.Lock()
	acc.balance += amount
	acc.mu.Unlock()

	slog.Debug("funds credited",
		"steam_id", steamID, "currency_id", cur.ID, "amount", amount, "sequence", stored.Sequence)

	return nil
}

// pendingAmount is the amount held by acc's pending reservation, if any.
func (l *Ledger) pendingAmount(acc *account) int64 {
	acc.mu.RLock()
	id := acc.pending
	acc.mu.RUnlock()

	if id == 0 {
		return 0
	}

	l.resMu.RLock()
	defer l.resMu.RUnlock()

	res, ok := l.reservations[id]
	if !ok {
		return 0
	}

	return res.Amount
}
