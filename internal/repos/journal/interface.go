package journal

import (
	"context"
	"errors"
	"iter"
)

var (
	ErrClosed           = errors.New("journal closed")
	ErrSequenceConflict = errors.New("journal sequence conflict")
	ErrCorruptRecord    = errors.New("corrupt journal record")
)

// Log is the append-only durable history of ledger mutations.
//
// Append assigns the record's Sequence and Timestamp and returns only after
// the record reached stable storage. ReadAll yields records in sequence order;
// every call starts a fresh scan from the first record.
type Log interface {
	Append(ctx context.Context, rec Record) (Record, error)
	ReadAll(ctx context.Context) iter.Seq2[Record, error]
	Close() error
}
