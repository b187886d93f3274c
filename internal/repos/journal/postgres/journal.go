package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fastprodman/purchaseledger/internal/infra/pgutils"
	"github.com/fastprodman/purchaseledger/internal/repos/journal"
)

// advisoryLockKey serializes appends across every process sharing the table.
const advisoryLockKey = 0x6a6f75726e616c // "journal"

const readBatch = 500

var _ journal.Log = (*journalRepo)(nil)

type journalRepo struct {
	mu     sync.Mutex
	db     *sql.DB
	broken error
	now    func() time.Time
}

// New returns a journal over the `journal` table created by the migrator.
// The caller owns db.
func New(db *sql.DB) *journalRepo {
	return &journalRepo{db: db, now: now}
}

// now matches the microsecond resolution of timestamptz, so a returned record
// equals the one read back later.
func now() time.Time {
	return time.Now().Truncate(time.Microsecond)
}

func (r *journalRepo) Append(ctx context.Context, rec journal.Record) (journal.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.broken != nil {
		return journal.Record{}, fmt.Errorf("journal unusable after failed commit: %w", r.broken)
	}

	var stored journal.Record

	err := pgutils.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey)
		if err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		var last int64

		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(sequence), 0)
			FROM journal
		`).Scan(&last)
		if err != nil {
			return fmt.Errorf("last sequence: %w", err)
		}

		stored, err = journal.Prepare(rec, uint64(last)+1, r.now())
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO journal (sequence, kind, reservation_id, steam_id, currency_id, amount, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			int64(stored.Sequence), stored.Kind.String(), int64(stored.ReservationID),
			stored.SteamID, stored.CurrencyID, stored.Amount, stored.Timestamp,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
				return journal.ErrSequenceConflict
			}

			return fmt.Errorf("insert record: %w", err)
		}

		return nil
	})
	if err != nil {
		if isCommitFailure(err) {
			// The commit outcome is unknown; the row may exist.
			r.broken = err
		}

		return journal.Record{}, fmt.Errorf("append: %w", err)
	}

	return stored, nil
}

func isCommitFailure(err error) bool {
	return errors.Is(err, pgutils.ErrCommit)
}

func (r *journalRepo) ReadAll(ctx context.Context) iter.Seq2[journal.Record, error] {
	return func(yield func(journal.Record, error) bool) {
		var after int64

		for {
			batch, err := r.readAfter(ctx, after)
			if err != nil {
				yield(journal.Record{}, err)
				return
			}

			for _, rec := range batch {
				if !yield(rec, nil) {
					return
				}
			}

			if len(batch) < readBatch {
				return
			}

			after = int64(batch[len(batch)-1].Sequence)
		}
	}
}

func (r *journalRepo) readAfter(ctx context.Context, after int64) ([]journal.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence, kind, reservation_id, steam_id, currency_id, amount, recorded_at
		FROM journal
		WHERE sequence > $1
		ORDER BY sequence
		LIMIT $2
	`, after, readBatch)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	batch := make([]journal.Record, 0, readBatch)

	for rows.Next() {
		var (
			seq, resID int64
			kind       string
			rec        journal.Record
		)

		err = rows.Scan(&seq, &kind, &resID, &rec.SteamID, &rec.CurrencyID, &rec.Amount, &rec.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		rec.Kind, err = journal.ParseKind(kind)
		if err != nil {
			return nil, fmt.Errorf("%w: sequence %d: %w", journal.ErrCorruptRecord, seq, err)
		}

		rec.Sequence = uint64(seq)
		rec.ReservationID = uint64(resID)
		rec.Timestamp = rec.Timestamp.UTC()

		batch = append(batch, rec)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return batch, nil
}

// Close is a no-op; the *sql.DB belongs to the caller.
func (r *journalRepo) Close() error {
	return nil
}
