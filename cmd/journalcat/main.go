// journalcat inspects a purchase ledger journal offline. It can print the
// raw records, replay them into a ledger and show the resulting balances, or
// just check that the history is consistent. Nothing is ever appended, so it
// is safe to point at a stopped server's journal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/fastprodman/purchaseledger/internal/config"
	"github.com/fastprodman/purchaseledger/internal/infra/pgutils"
	"github.com/fastprodman/purchaseledger/internal/repos/journal"
	badgerjournal "github.com/fastprodman/purchaseledger/internal/repos/journal/badger"
	pgjournal "github.com/fastprodman/purchaseledger/internal/repos/journal/postgres"
	waljournal "github.com/fastprodman/purchaseledger/internal/repos/journal/wal"
	"github.com/fastprodman/purchaseledger/internal/services/recovery"
)

var allKinds = []string{"opened", "credited", "reserved", "committed", "rolled_back"}

type arguments struct {
	command string
	backend config.Backend
	path    string
	dsn     string
	steamID string
	kinds   []string
	asJSON  bool
}

func parseArgs(args []string) (*arguments, error) {
	app := kingpin.New("journalcat", "Utility for reading purchase ledger journals.")
	backend := app.Flag("backend", "Journal backend.").Default("wal").Enum("wal", "badger", "postgres")
	path := app.Flag("path", "Journal directory for the wal and badger backends.").Default("data/journal").String()
	dsn := app.Flag("dsn", "Postgres DSN for the postgres backend.").Envar("PG_DSN").String()

	dump := app.Command("dump", "Print journal records in sequence order.")
	steamID := dump.Flag("steamID", "Only records for this steam id.").String()
	kinds := dump.Flag("kind", "Only records of this kind (repeatable).").Enums(allKinds...)
	asJSON := dump.Flag("json", "One JSON object per line.").Default("false").Bool()

	app.Command("replay", "Replay the journal and print balances and pending reservations.")
	app.Command("verify", "Replay the journal and report whether it is consistent.")

	command, err := app.Parse(args)
	if err != nil {
		return nil, err
	}

	var b config.Backend

	err = b.UnmarshalText([]byte(*backend))
	if err != nil {
		return nil, err
	}

	if b == config.BackendPostgres && *dsn == "" {
		return nil, errors.Errorf("--dsn (or PG_DSN) is required for the postgres backend")
	}

	return &arguments{
		command: command,
		backend: b,
		path:    *path,
		dsn:     *dsn,
		steamID: *steamID,
		kinds:   *kinds,
		asJSON:  *asJSON,
	}, nil
}

func (a *arguments) open(ctx context.Context) (journal.Log, func() error, error) {
	switch a.backend {
	case config.BackendWAL:
		j, err := waljournal.Open(a.path)
		if err != nil {
			return nil, nil, err
		}

		return j, j.Close, nil
	case config.BackendBadger:
		j, err := badgerjournal.Open(a.path)
		if err != nil {
			return nil, nil, err
		}

		return j, j.Close, nil
	case config.BackendPostgres:
		db, err := pgutils.OpenDB(ctx, config.PostgresConfig{DSN: a.dsn})
		if err != nil {
			return nil, nil, err
		}

		return pgjournal.New(db), db.Close, nil
	default:
		return nil, nil, errors.Errorf("backend %q cannot be read offline", a.backend)
	}
}

func (a *arguments) execute(ctx context.Context, out io.Writer) error {
	log, closeFn, err := a.open(ctx)
	if err != nil {
		return errors.WithMessage(err, "could not open journal")
	}
	//nolint:errcheck
	defer closeFn()

	switch a.command {
	case "dump":
		return a.dump(ctx, log, out)
	case "replay":
		return replay(ctx, log, out)
	case "verify":
		return verify(ctx, log, out)
	default:
		return errors.Errorf("unknown command %q", a.command)
	}
}

type jsonRecord struct {
	Sequence      uint64    `json:"sequence"`
	Kind          string    `json:"kind"`
	ReservationID uint64    `json:"reservationId,omitempty"`
	SteamID       string    `json:"steamId"`
	CurrencyID    string    `json:"currencyId"`
	Amount        int64     `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}

func (a *arguments) dump(ctx context.Context, log journal.Log, out io.Writer) error {
	enc := json.NewEncoder(out)

	for rec, err := range log.ReadAll(ctx) {
		if err != nil {
			return err
		}

		if a.steamID != "" && rec.SteamID != a.steamID {
			continue
		}

		if len(a.kinds) > 0 && !slices.Contains(a.kinds, rec.Kind.String()) {
			continue
		}

		if a.asJSON {
			err = enc.Encode(jsonRecord{
				Sequence:      rec.Sequence,
				Kind:          rec.Kind.String(),
				ReservationID: rec.ReservationID,
				SteamID:       rec.SteamID,
				CurrencyID:    rec.CurrencyID,
				Amount:        rec.Amount,
				Timestamp:     rec.Timestamp,
			})
			if err != nil {
				return err
			}

			continue
		}

		fmt.Fprintf(out, "%8d %-11s res=%-6d %s/%s amount=%d at=%s\n",
			rec.Sequence, rec.Kind, rec.ReservationID, rec.SteamID, rec.CurrencyID,
			rec.Amount, rec.Timestamp.Format(time.RFC3339Nano))
	}

	return nil
}

func replay(ctx context.Context, log journal.Log, out io.Writer) error {
	// Currencies only matter for keys without history, and replay lists
	// only keys with history.
	led, st, err := recovery.New(log, config.Currencies{{ID: "-"}}).Replay(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "records: %d (last sequence %d)\n\n", st.Records, st.LastSeq)
	fmt.Fprintln(out, "balances:")

	for _, acc := range led.Accounts() {
		fmt.Fprintf(out, "  %s/%s %d", acc.SteamID, acc.CurrencyID, acc.Balance)

		if acc.Pending != 0 {
			fmt.Fprintf(out, " (pending reservation %d)", acc.Pending)
		}

		fmt.Fprintln(out)
	}

	pending := led.Pending()

	fmt.Fprintf(out, "\npending reservations: %d\n", len(pending))

	for _, res := range pending {
		fmt.Fprintf(out, "  %d %s/%s amount=%d since=%s\n",
			res.ID, res.SteamID, res.CurrencyID, res.Amount, res.CreatedAt.Format(time.RFC3339))
	}

	return nil
}

func verify(ctx context.Context, log journal.Log, out io.Writer) error {
	_, st, err := recovery.New(log, config.Currencies{{ID: "-"}}).Replay(ctx)
	if err != nil {
		return errors.WithMessagef(err, "journal inconsistent after %d good records", st.Records)
	}

	fmt.Fprintf(out, "ok: %d records, last sequence %d, %d reserved, %d committed, %d rolled back\n",
		st.Records, st.LastSeq, st.Reserved, st.Committed, st.RolledBack)

	return nil
}

func main() {
	kingpin.Version("0.1.0")

	args, err := parseArgs(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("failed to parse arguments, %s, try --help", err)
	}

	err = args.execute(context.Background(), os.Stdout)
	if err != nil {
		kingpin.Fatalf("%s", err)
	}
}
