package journal

import (
	"context"
	"fmt"
	"time"
)

// Prepare validates rec and stamps it with the sequence a backend allocated.
// A caller-supplied timestamp is kept; otherwise now is used.
func Prepare(rec Record, seq uint64, now time.Time) (Record, error) {
	rec.Sequence = seq
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now.UTC()
	}

	err := rec.Validate()
	if err != nil {
		return Record{}, err
	}

	return rec, nil
}

// Collect drains ReadAll into a slice.
func Collect(ctx context.Context, l Log) ([]Record, error) {
	var out []Record

	for rec, err := range l.ReadAll(ctx) {
		if err != nil {
			return nil, fmt.Errorf("read journal: %w", err)
		}

		out = append(out, rec)
	}

	return out, nil
}
