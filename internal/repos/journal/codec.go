package journal

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the binary record encoding. Never renumber.
const (
	fieldSequence      protowire.Number = 1
	fieldKind          protowire.Number = 2
	fieldReservationID protowire.Number = 3
	fieldSteamID       protowire.Number = 4
	fieldCurrencyID    protowire.Number = 5
	fieldAmount        protowire.Number = 6
	fieldTimestamp     protowire.Number = 7
)

// Marshal encodes a record in protobuf wire format. Zero-valued fields are
// omitted, so unknown fields written by newer versions are skipped on read.
func Marshal(r Record) []byte {
	b := make([]byte, 0, 64+len(r.SteamID)+len(r.CurrencyID))

	b = appendVarint(b, fieldSequence, r.Sequence)
	b = appendVarint(b, fieldKind, uint64(r.Kind))
	b = appendVarint(b, fieldReservationID, r.ReservationID)

	if r.SteamID != "" {
		b = protowire.AppendTag(b, fieldSteamID, protowire.BytesType)
		b = protowire.AppendString(b, r.SteamID)
	}

	if r.CurrencyID != "" {
		b = protowire.AppendTag(b, fieldCurrencyID, protowire.BytesType)
		b = protowire.AppendString(b, r.CurrencyID)
	}

	b = appendVarint(b, fieldAmount, protowire.EncodeZigZag(r.Amount))

	if !r.Timestamp.IsZero() {
		b = appendVarint(b, fieldTimestamp, protowire.EncodeZigZag(r.Timestamp.UnixNano()))
	}

	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}

	b = protowire.AppendTag(b, num, protowire.VarintType)

	return protowire.AppendVarint(b, v)
}

// Unmarshal decodes a record produced by Marshal.
//
//nolint:cyclop
func Unmarshal(b []byte) (Record, error) {
	var r Record

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, fmt.Errorf("%w: tag: %w", ErrCorruptRecord, protowire.ParseError(n))
		}

		b = b[n:]

		switch {
		case typ == protowire.VarintType && isVarintField(num):
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Record{}, fmt.Errorf("%w: field %d: %w", ErrCorruptRecord, num, protowire.ParseError(m))
			}

			b = b[m:]

			switch num {
			case fieldSequence:
				r.Sequence = v
			case fieldKind:
				if v > math.MaxUint8 {
					return Record{}, fmt.Errorf("%w: kind %d out of range", ErrCorruptRecord, v)
				}

				r.Kind = Kind(v)
			case fieldReservationID:
				r.ReservationID = v
			case fieldAmount:
				r.Amount = protowire.DecodeZigZag(v)
			case fieldTimestamp:
				r.Timestamp = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			}

		case typ == protowire.BytesType && (num == fieldSteamID || num == fieldCurrencyID):
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Record{}, fmt.Errorf("%w: field %d: %w", ErrCorruptRecord, num, protowire.ParseError(m))
			}

			b = b[m:]

			if num == fieldSteamID {
				r.SteamID = string(v)
			} else {
				r.CurrencyID = string(v)
			}

		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return Record{}, fmt.Errorf("%w: skip field %d: %w", ErrCorruptRecord, num, protowire.ParseError(m))
			}

			b = b[m:]
		}
	}

	return r, nil
}

func isVarintField(num protowire.Number) bool {
	switch num {
	case fieldSequence, fieldKind, fieldReservationID, fieldAmount, fieldTimestamp:
		return true
	default:
		return false
	}
}
