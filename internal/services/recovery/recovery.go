// Package recovery rebuilds a ledger from its journal at startup.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fastprodman/purchaseledger/internal/config"
	"github.com/fastprodman/purchaseledger/internal/repos/journal"
	"github.com/fastprodman/purchaseledger/internal/services/ledger"
)

var ErrSequenceGap = errors.New("journal sequence gap")

type Stats struct {
	Records    int
	Opened     int
	Credited   int
	Reserved   int
	Committed  int
	RolledBack int
	// Abandoned counts reservations found pending and rolled back by Recover.
	Abandoned int
	LastSeq   uint64
}

type Manager struct {
	log        journal.Log
	currencies config.Currencies
}

func New(log journal.Log, currencies config.Currencies) *Manager {
	return &Manager{log: log, currencies: currencies}
}

// Replay folds every journal record into a fresh ledger and appends nothing.
// Reservations that were pending when the journal ended stay pending.
func (m *Manager) Replay(ctx context.Context) (*ledger.Ledger, Stats, error) {
	led := ledger.New(m.log, m.currencies)

	var st Stats

	for rec, err := range m.log.ReadAll(ctx) {
		if err != nil {
			return nil, st, fmt.Errorf("read journal after seq %d: %w", st.LastSeq, err)
		}

		if rec.Sequence != st.LastSeq+1 {
			return nil, st, fmt.Errorf("%w: seq %d follows %d", ErrSequenceGap, rec.Sequence, st.LastSeq)
		}

		err = led.Apply(rec)
		if err != nil {
			return nil, st, err
		}

		st.Records++
		st.LastSeq = rec.Sequence

		switch rec.Kind {
		case journal.KindOpened:
			st.Opened++
		case journal.KindCredited:
			st.Credited++
		case journal.KindReserved:
			st.Reserved++
		case journal.KindCommitted:
			st.Committed++
		case journal.KindRolledBack:
			st.RolledBack++
		}
	}

	return led, st, nil
}

// Recover replays the journal and then rolls back every reservation that was
// still pending, journaling each rollback. Running it again on the resulting
// journal finds nothing to roll back.
func (m *Manager) Recover(ctx context.Context) (*ledger.Ledger, Stats, error) {
	start := time.Now()

	led, st, err := m.Replay(ctx)
	if err != nil {
		return nil, st, err
	}

	for _, res := range led.Pending() {
		err = led.Rollback(ctx, res.ID)
		if err != nil {
			return nil, st, fmt.Errorf("roll back abandoned reservation %d: %w", res.ID, err)
		}

		st.Abandoned++

		slog.Warn("rolled back abandoned reservation",
			"reservation_id", res.ID, "steam_id", res.SteamID,
			"currency_id", res.CurrencyID, "amount", res.Amount)
	}

	slog.Info("ledger recovered",
		"records", st.Records,
		"reserved", st.Reserved,
		"committed", st.Committed,
		"rolled_back", st.RolledBack,
		"abandoned", st.Abandoned,
		"last_seq", st.LastSeq,
		"took", time.Since(start),
	)

	return led, st, nil
}
