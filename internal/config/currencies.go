package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnknownCurrency = errors.New("unknown currency")

// Currency is a configured denomination and the balance a new account starts with.
type Currency struct {
	ID    string
	Start int64
}

// Currencies is the ordered currency list. The first entry is the default
// used when a request names no currency.
type Currencies []Currency

// UnmarshalText parses "ID:start,ID:start". A missing start means 0.
func (c *Currencies) UnmarshalText(text []byte) error {
	var out Currencies

	seen := make(map[string]struct{})

	for _, part := range strings.Split(string(text), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		id, startRaw, _ := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return fmt.Errorf("currency %q: empty id", part)
		}

		if _, dup := seen[id]; dup {
			return fmt.Errorf("currency %q listed twice", id)
		}
		seen[id] = struct{}{}

		var start int64

		startRaw = strings.TrimSpace(startRaw)
		if startRaw != "" {
			v, err := strconv.ParseInt(startRaw, 10, 64)
			if err != nil {
				return fmt.Errorf("currency %q start: %w", id, err)
			}

			if v < 0 {
				v = 0
			}

			start = v
		}

		out = append(out, Currency{ID: id, Start: start})
	}

	if len(out) == 0 {
		return errors.New("no currencies configured")
	}

	*c = out

	return nil
}

func (c Currencies) String() string {
	parts := make([]string, len(c))
	for i, cur := range c {
		parts[i] = cur.ID + ":" + strconv.FormatInt(cur.Start, 10)
	}

	return strings.Join(parts, ",")
}

// Resolve maps a requested currency id to a configured one; "" selects the default.
func (c Currencies) Resolve(id string) (Currency, error) {
	if len(c) == 0 {
		return Currency{}, fmt.Errorf("%w: none configured", ErrUnknownCurrency)
	}

	if id == "" {
		return c[0], nil
	}

	for _, cur := range c {
		if cur.ID == id {
			return cur, nil
		}
	}

	return Currency{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, id)
}
