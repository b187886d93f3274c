// Package journal is a journal.Log stored in a Badger key-value store.
// Records live under "journal/" keyed by their big-endian sequence, so key
// order is sequence order.
package journal

import (
	"context"
	"encoding/binary"
	"iter"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"

	"github.com/fastprodman/purchaseledger/internal/repos/journal"
)

const readBatch = 256

var prefix = []byte("journal/")

var _ journal.Log = (*Journal)(nil)

type Journal struct {
	mu     sync.Mutex
	db     *badger.DB
	next   uint64
	closed bool
	now    func() time.Time
}

func key(seq uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], seq)

	return k
}

// Open opens the store in dir. An empty dir keeps everything in memory.
func Open(dir string) (*Journal, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir).WithSyncWrites(true).WithTruncate(true)
	}

	db, err := badger.Open(opts.WithLogger(slogLogger{slog.Default().With("component", "badger")}))
	if err != nil {
		return nil, errors.WithMessage(err, "could not open backing db")
	}

	last, err := lastSequence(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{
		db:   db,
		next: last + 1,
		now:  time.Now,
	}, nil
}

func lastSequence(db *badger.DB) (uint64, error) {
	var last uint64

	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(key(^uint64(0)))
		if it.ValidForPrefix(prefix) {
			last = binary.BigEndian.Uint64(it.Item().Key()[len(prefix):])
		}

		return nil
	})
	if err != nil {
		return 0, errors.WithMessage(err, "could not find last sequence")
	}

	return last, nil
}

func (j *Journal) Append(ctx context.Context, rec journal.Record) (journal.Record, error) {
	err := ctx.Err()
	if err != nil {
		return journal.Record{}, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return journal.Record{}, journal.ErrClosed
	}

	rec, err = journal.Prepare(rec, j.next, j.now())
	if err != nil {
		return journal.Record{}, err
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		k := key(rec.Sequence)

		_, gerr := txn.Get(k)
		if gerr == nil {
			return journal.ErrSequenceConflict
		}

		if !errors.Is(gerr, badger.ErrKeyNotFound) {
			return gerr
		}

		return txn.Set(k, journal.Marshal(rec))
	})
	if err != nil {
		return journal.Record{}, errors.WithMessagef(err, "could not store sequence %d", rec.Sequence)
	}

	j.next++

	return rec, nil
}

func (j *Journal) ReadAll(ctx context.Context) iter.Seq2[journal.Record, error] {
	return func(yield func(journal.Record, error) bool) {
		from := uint64(1)

		for {
			err := ctx.Err()
			if err != nil {
				yield(journal.Record{}, err)
				return
			}

			batch, err := j.readFrom(from)
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

			from = batch[len(batch)-1].Sequence + 1
		}
	}
}

func (j *Journal) readFrom(from uint64) ([]journal.Record, error) {
	batch := make([]journal.Record, 0, readBatch)

	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(key(from)); it.ValidForPrefix(prefix) && len(batch) < readBatch; it.Next() {
			item := it.Item()
			seq := binary.BigEndian.Uint64(item.Key()[len(prefix):])

			data, err := item.ValueCopy(nil)
			if err != nil {
				return errors.WithMessagef(err, "could not read sequence %d", seq)
			}

			rec, err := journal.Unmarshal(data)
			if err != nil {
				return errors.WithMessagef(err, "sequence %d", seq)
			}

			if rec.Sequence != seq {
				return errors.WithMessagef(journal.ErrCorruptRecord, "key %d holds sequence %d", seq, rec.Sequence)
			}

			batch = append(batch, rec)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return batch, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	j.closed = true

	return j.db.Close()
}
