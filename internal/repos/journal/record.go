package journal

import (
	"fmt"
	"strings"
	"time"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindOpened
	KindCredited
	KindReserved
	KindCommitted
	KindRolledBack
)

var kindNames = map[Kind]string{
	KindOpened:     "opened",
	KindCredited:   "credited",
	KindReserved:   "reserved",
	KindCommitted:  "committed",
	KindRolledBack: "rolled_back",
}

func (k Kind) String() string {
	name, ok := kindNames[k]
	if !ok {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}

	return name
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}

	return KindUnknown, fmt.Errorf("unknown record kind %q", s)
}

// Record is a single state transition of the ledger.
//
// Opened and Credited carry no reservation id. Committed and RolledBack carry
// the reservation id plus the key and amount of the reservation they settle,
// so a record can be read on its own.
type Record struct {
	Sequence      uint64
	Kind          Kind
	ReservationID uint64
	SteamID       string
	CurrencyID    string
	Amount        int64
	Timestamp     time.Time
}

func (r Record) Validate() error {
	if _, ok := kindNames[r.Kind]; !ok {
		return fmt.Errorf("%w: invalid kind %d", ErrCorruptRecord, r.Kind)
	}

	if r.SteamID == "" || r.CurrencyID == "" {
		return fmt.Errorf("%w: missing account key", ErrCorruptRecord)
	}

	if r.Amount < 0 {
		return fmt.Errorf("%w: negative amount %d", ErrCorruptRecord, r.Amount)
	}

	switch r.Kind {
	case KindReserved, KindCommitted, KindRolledBack:
		if r.ReservationID == 0 {
			return fmt.Errorf("%w: %s without reservation id", ErrCorruptRecord, r.Kind)
		}
	}

	return nil
}
