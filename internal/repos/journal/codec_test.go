package journal

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestCodec_PreservesRecord(t *testing.T) {
	t.Parallel()

	rec := Record{
		Sequence:      42,
		Kind:          KindRolledBack,
		ReservationID: 7,
		SteamID:       "76561198000000001",
		CurrencyID:    "Askal_Coin",
		Amount:        1 << 40,
		Timestamp:     time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.UTC),
	}

	got, err := Unmarshal(Marshal(rec))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got != rec {
		t.Fatalf("got %+v, want %+v", got, rec)
	}
}

func TestCodec_OpenedWithZeroAmount(t *testing.T) {
	t.Parallel()

	rec := Record{Sequence: 1, Kind: KindOpened, SteamID: "1", CurrencyID: "Askal_Money"}

	got, err := Unmarshal(Marshal(rec))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got != rec || got.Validate() != nil {
		t.Fatalf("got %+v (validate %v)", got, got.Validate())
	}
}

func TestCodec_SkipsUnknownFields(t *testing.T) {
	t.Parallel()

	rec := Record{Sequence: 3, Kind: KindCredited, SteamID: "1", CurrencyID: "Askal_Coin", Amount: 5}

	b := Marshal(rec)
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "written by a newer version")
	b = protowire.AppendTag(b, 100, protowire.VarintType)
	b = protowire.AppendVarint(b, 12345)

	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got != rec {
		t.Fatalf("got %+v, want %+v", got, rec)
	}
}

func TestCodec_RejectsOutOfRangeKind(t *testing.T) {
	t.Parallel()

	b := Marshal(Record{Sequence: 3, Kind: KindCredited, SteamID: "1", CurrencyID: "Askal_Coin", Amount: 5})

	// 259 would truncate to KindReserved.
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, 259)

	_, err := Unmarshal(b)
	if !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("err = %v, want ErrCorruptRecord", err)
	}
}

func TestCodec_RejectsTruncatedInput(t *testing.T) {
	t.Parallel()

	b := Marshal(Record{Sequence: 3, Kind: KindCredited, SteamID: "76561198000000001", CurrencyID: "Askal_Coin", Amount: 5})

	_, err := Unmarshal(b[:len(b)-3])
	if !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("err = %v, want ErrCorruptRecord", err)
	}
}

func TestRecord_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{"opened", Record{Kind: KindOpened, SteamID: "1", CurrencyID: "c", Amount: 0}, false},
		{"reserved", Record{Kind: KindReserved, ReservationID: 1, SteamID: "1", CurrencyID: "c", Amount: 3}, false},
		{"unknown_kind", Record{Kind: KindUnknown, SteamID: "1", CurrencyID: "c"}, true},
		{"missing_steam_id", Record{Kind: KindCredited, CurrencyID: "c", Amount: 1}, true},
		{"missing_currency", Record{Kind: KindCredited, SteamID: "1", Amount: 1}, true},
		{"negative_amount", Record{Kind: KindCredited, SteamID: "1", CurrencyID: "c", Amount: -1}, true},
		{"commit_without_id", Record{Kind: KindCommitted, SteamID: "1", CurrencyID: "c", Amount: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}

			if err != nil && !errors.Is(err, ErrCorruptRecord) {
				t.Fatalf("error %v does not wrap ErrCorruptRecord", err)
			}
		})
	}
}

func TestKind_ParseRoundTrip(t *testing.T) {
	t.Parallel()

	for k := KindOpened; k <= KindRolledBack; k++ {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Fatalf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}

	_, err := ParseKind("refunded")
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
