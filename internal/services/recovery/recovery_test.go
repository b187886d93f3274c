package recovery

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/fastprodman/purchaseledger/internal/config"
	"github.com/fastprodman/purchaseledger/internal/repos/journal"
	memjournal "github.com/fastprodman/purchaseledger/internal/repos/journal/memory"
	waljournal "github.com/fastprodman/purchaseledger/internal/repos/journal/wal"
	"github.com/fastprodman/purchaseledger/internal/services/ledger"
)

var testCurrencies = config.Currencies{
	{ID: "Askal_Money", Start: 0},
	{ID: "Askal_Coin", Start: 1000},
}

func TestRecover_CrashAfterReserve_WAL(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := t.Context()

	j, err := waljournal.Open(dir)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}

	led, _, err := New(j, testCurrencies).Recover(ctx)
	if err != nil {
		t.Fatalf("recover empty: %v", err)
	}

	id, err := led.Reserve(ctx, "76561198000000001", "Askal_Coin", 500)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	bal, _ := led.Balance("76561198000000001", "Askal_Coin")
	if bal != 500 {
		t.Fatalf("balance before crash = %d, want 500", bal)
	}

	// Crash: the reservation is never settled.
	err = j.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	j, err = waljournal.Open(dir)
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}
	defer j.Close()

	led, st, err := New(j, testCurrencies).Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}

	if st.Abandoned != 1 || st.Reserved != 1 || st.Records != 2 {
		t.Fatalf("stats = %+v", st)
	}

	bal, _ = led.Balance("76561198000000001", "Askal_Coin")
	if bal != 1000 {
		t.Fatalf("balance after recovery = %d, want 1000", bal)
	}

	res, err := led.Reservation(id)
	if err != nil {
		t.Fatalf("reservation: %v", err)
	}

	if res.State != ledger.StateRolledBack {
		t.Fatalf("state = %s, want rolled_back", res.State)
	}

	// A recovered ledger keeps working and keeps ids unique.
	id2, err := led.Reserve(ctx, "76561198000000001", "Askal_Coin", 100)
	if err != nil {
		t.Fatalf("reserve after recovery: %v", err)
	}

	if id2 <= id {
		t.Fatalf("id %d reused after recovery (previous %d)", id2, id)
	}
}

func TestRecover_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	j := memjournal.New()

	led, _, err := New(j, testCurrencies).Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}

	committed, err := led.Reserve(ctx, "1", "Askal_Coin", 300)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	err = led.Commit(ctx, committed)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	_, err = led.Reserve(ctx, "1", "Askal_Coin", 200)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, err = led.Reserve(ctx, "2", "Askal_Coin", 50)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	first, st1, err := New(j, testCurrencies).Recover(ctx)
	if err != nil {
		t.Fatalf("first recover: %v", err)
	}

	if st1.Abandoned != 2 {
		t.Fatalf("first recover abandoned = %d, want 2", st1.Abandoned)
	}

	recordsAfterFirst := j.Len()

	second, st2, err := New(j, testCurrencies).Recover(ctx)
	if err != nil {
		t.Fatalf("second recover: %v", err)
	}

	if st2.Abandoned != 0 {
		t.Fatalf("second recover abandoned = %d, want 0", st2.Abandoned)
	}

	if j.Len() != recordsAfterFirst {
		t.Fatalf("second recover appended %d records", j.Len()-recordsAfterFirst)
	}

	for _, steamID := range []string{"1", "2"} {
		a, _ := first.Balances(steamID)
		b, _ := second.Balances(steamID)

		for cur, v := range a {
			if b[cur] != v {
				t.Fatalf("%s/%s: %d after first recovery, %d after second", steamID, cur, v, b[cur])
			}
		}
	}

	bal, _ := second.Balance("1", "Askal_Coin")
	if bal != 700 {
		t.Fatalf("balance = %d, want 700", bal)
	}
}

func TestReplay_HasNoSideEffects(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	j := memjournal.New()

	led := ledger.New(j, testCurrencies)

	_, err := led.Reserve(ctx, "1", "Askal_Coin", 10)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	before := j.Len()

	replayed, st, err := New(j, testCurrencies).Replay(ctx)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	if j.Len() != before {
		t.Fatalf("replay appended records")
	}

	if len(replayed.Pending()) != 1 || st.Abandoned != 0 || st.LastSeq != uint64(before) {
		t.Fatalf("pending = %v, stats = %+v", replayed.Pending(), st)
	}
}

// fixedLog serves a fixed record list, bypassing the sequencing a real
// backend enforces.
type fixedLog []journal.Record

func (f fixedLog) Append(context.Context, journal.Record) (journal.Record, error) {
	return journal.Record{}, errors.New("read only")
}

func (f fixedLog) ReadAll(context.Context) iter.Seq2[journal.Record, error] {
	return func(yield func(journal.Record, error) bool) {
		for _, rec := range f {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (f fixedLog) Close() error { return nil }

func TestReplay_DetectsBrokenHistory(t *testing.T) {
	t.Parallel()

	opened := journal.Record{Kind: journal.KindOpened, SteamID: "1", CurrencyID: "Askal_Coin", Amount: 1000}
	credited := journal.Record{Kind: journal.KindCredited, SteamID: "1", CurrencyID: "Askal_Coin", Amount: 5}

	tests := []struct {
		name    string
		recs    []journal.Record
		wantErr error
	}{
		{
			name:    "gap",
			recs:    []journal.Record{withSeq(opened, 1), withSeq(credited, 3)},
			wantErr: ErrSequenceGap,
		},
		{
			name:    "starts_after_one",
			recs:    []journal.Record{withSeq(opened, 2)},
			wantErr: ErrSequenceGap,
		},
		{
			name:    "inconsistent",
			recs:    []journal.Record{withSeq(opened, 1), withSeq(opened, 2)},
			wantErr: ledger.ErrCorruptJournal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := New(fixedLog(tt.recs), testCurrencies).Replay(t.Context())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func withSeq(rec journal.Record, seq uint64) journal.Record {
	rec.Sequence = seq
	return rec
}
