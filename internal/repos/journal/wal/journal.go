// Package journal is a journal.Log on top of a segmented write-ahead log
// (github.com/tidwall/wal). The WAL index of an entry is its record sequence,
// so the on-disk layout is gapless by construction.
package journal

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/wal"

	"github.com/fastprodman/purchaseledger/internal/repos/journal"
)

var _ journal.Log = (*Journal)(nil)

type Journal struct {
	mu  sync.Mutex
	log *wal.Log

	// Sequence the next append receives.
	next uint64

	// Set when an append may have reached the disk without the caller being
	// told so. Every later append fails until the process restarts and the
	// journal is replayed.
	broken error
	closed bool

	now func() time.Time
}

// Open opens (or creates) the journal stored in dir.
func Open(dir string) (*Journal, error) {
	log, err := wal.Open(dir, &wal.Options{
		NoSync: true, // synced explicitly after every append
		NoCopy: true,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "could not open WAL")
	}

	first, err := log.FirstIndex()
	if err != nil {
		log.Close()
		return nil, errors.WithMessage(err, "could not read first index")
	}

	last, err := log.LastIndex()
	if err != nil {
		log.Close()
		return nil, errors.WithMessage(err, "could not read last index")
	}

	if first > 1 {
		log.Close()
		return nil, errors.Errorf("WAL starts at index %d, journal must start at 1", first)
	}

	return &Journal{
		log:  log,
		next: last + 1,
		now:  time.Now,
	}, nil
}

func (j *Journal) Append(ctx context.Context, rec journal.Record) (journal.Record, error) {
	err := ctx.Err()
	if err != nil {
		return journal.Record{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	switch {
	case j.closed:
		return journal.Record{}, journal.ErrClosed
	case j.broken != nil:
		return journal.Record{}, errors.WithMessage(j.broken, "journal unusable after failed sync")
	}

	rec, err = journal.Prepare(rec, j.next, j.now())
	if err != nil {
		return journal.Record{}, err
	}

	err = j.log.Write(rec.Sequence, journal.Marshal(rec))
	if err != nil {
		return journal.Record{}, errors.WithMessagef(err, "could not write index %d", rec.Sequence)
	}

	// From here on the entry is in the log, so the index must advance even
	// when the sync fails.
	j.next++

	err = j.log.Sync()
	if err != nil {
		j.broken = err
		return journal.Record{}, errors.WithMessage(err, "could not sync WAL")
	}

	return rec, nil
}

func (j *Journal) ReadAll(ctx context.Context) iter.Seq2[journal.Record, error] {
	return func(yield func(journal.Record, error) bool) {
		first, err := j.log.FirstIndex()
		if err != nil {
			yield(journal.Record{}, errors.WithMessage(err, "could not read first index"))
			return
		}

		if first == 0 {
			return
		}

		last, err := j.log.LastIndex()
		if err != nil {
			yield(journal.Record{}, errors.WithMessage(err, "could not read last index"))
			return
		}

		for i := first; i <= last; i++ {
			err = ctx.Err()
			if err != nil {
				yield(journal.Record{}, err)
				return
			}

			data, err := j.log.Read(i)
			if err != nil {
				yield(journal.Record{}, errors.WithMessagef(err, "could not read index %d", i))
				return
			}

			rec, err := journal.Unmarshal(data)
			if err != nil {
				yield(journal.Record{}, errors.WithMessagef(err, "index %d", i))
				return
			}

			if rec.Sequence != i {
				yield(journal.Record{}, errors.WithMessagef(journal.ErrCorruptRecord,
					"index %d holds sequence %d", i, rec.Sequence))

				return
			}

			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	j.closed = true

	return j.log.Close()
}
