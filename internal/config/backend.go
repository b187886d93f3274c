package config

import (
	"fmt"
	"strings"
)

// Backend selects the journal storage.
type Backend string

const (
	BackendWAL      Backend = "wal"
	BackendBadger   Backend = "badger"
	BackendPostgres Backend = "postgres"
	BackendMemory   Backend = "memory"
)

func (b *Backend) UnmarshalText(text []byte) error {
	switch v := Backend(strings.ToLower(strings.TrimSpace(string(text)))); v {
	case BackendWAL, BackendBadger, BackendPostgres, BackendMemory:
		*b = v
		return nil
	default:
		return fmt.Errorf("unknown journal backend %q", text)
	}
}
