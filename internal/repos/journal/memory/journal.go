// Package journal implements an in-process journal.Log.
//
// Records survive only as long as the Journal value does. Tests use it to
// simulate a crash by handing the same Journal to a fresh ledger, and to
// inject append failures.
package journal

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/fastprodman/purchaseledger/internal/repos/journal"
)

var _ journal.Log = (*Journal)(nil)

type Journal struct {
	mu       sync.Mutex
	records  []journal.Record
	closed   bool
	failNext []error
	now      func() time.Time
}

func New() *Journal {
	return &Journal{now: time.Now}
}

// FailNext makes the next len(errs) appends fail with the given errors, in order.
func (j *Journal) FailNext(errs ...error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.failNext = append(j.failNext, errs...)
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

	if len(j.failNext) > 0 {
		ferr := j.failNext[0]
		j.failNext = j.failNext[1:]

		return journal.Record{}, ferr
	}

	rec, err = journal.Prepare(rec, uint64(len(j.records))+1, j.now())
	if err != nil {
		return journal.Record{}, err
	}

	j.records = append(j.records, rec)

	return rec, nil
}

func (j *Journal) ReadAll(ctx context.Context) iter.Seq2[journal.Record, error] {
	return func(yield func(journal.Record, error) bool) {
		for i := 0; ; i++ {
			err := ctx.Err()
			if err != nil {
				yield(journal.Record{}, err)
				return
			}

			j.mu.Lock()
			if i >= len(j.records) {
				j.mu.Unlock()
				return
			}

			rec := j.records[i]
			j.mu.Unlock()

			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Len returns the number of appended records.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	return len(j.records)
}

// Reopen clears the closed flag, standing in for a process restart.
func (j *Journal) Reopen() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.closed = false
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.closed = true

	return nil
}
