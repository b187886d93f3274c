// Package ledger holds account balances and fund reservations in memory,
// mirroring every change to a journal before it becomes visible.
//
// Each (steam id, currency id) pair is an independent account key with its
// own critical section. At most one reservation per key can be pending, and a
// reserved amount leaves the balance the moment it is reserved.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fastprodman/purchaseledger/internal/config"
	"github.com/fastprodman/purchaseledger/internal/repos/journal"
)

type ReservationID uint64

type State uint8

const (
	StatePending State = iota + 1
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

type Reservation struct {
	ID         ReservationID
	SteamID    string
	CurrencyID string
	Amount     int64
	State      State
	CreatedAt  time.Time
	SettledAt  time.Time
}

type accountKey struct {
	steamID    string
	currencyID string
}

type account struct {
	// One-slot semaphore: the key's critical section. A channel rather than a
	// sync.Mutex so waiters can give up when their context ends.
	sem chan struct{}

	// Guards the fields below for readers outside the critical section.
	// Writers hold both sem and mu.
	mu      sync.RWMutex
	opened  bool
	balance int64
	pending ReservationID
}

type Ledger struct {
	log        journal.Log
	currencies config.Currencies

	mu       sync.RWMutex
	accounts map[accountKey]*account

	resMu        sync.RWMutex
	reservations map[ReservationID]*Reservation

	lastID atomic.Uint64
}

// New returns an empty ledger writing to log. Callers normally obtain a
// ledger from recovery.Manager instead, which replays log first.
func New(log journal.Log, currencies config.Currencies) *Ledger {
	return &Ledger{
		log:          log,
		currencies:   currencies,
		accounts:     make(map[accountKey]*account),
		reservations: make(map[ReservationID]*Reservation),
	}
}

// Currencies returns the configured currency list.
func (l *Ledger) Currencies() config.Currencies {
	return l.currencies
}

func (l *Ledger) account(k accountKey) *account {
	l.mu.RLock()
	acc, ok := l.accounts[k]
	l.mu.RUnlock()

	if ok {
		return acc
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok = l.accounts[k]
	if !ok {
		acc = &account{sem: make(chan struct{}, 1)}
		l.accounts[k] = acc
	}

	return acc
}

// lock enters the critical section of acc, giving up when ctx ends.
func lock(ctx context.Context, acc *account) error {
	select {
	case acc.sem <- struct{}{}:
		return nil
	default:
	}

	select {
	case acc.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

func unlock(acc *account) {
	<-acc.sem
}

func (l *Ledger) resolve(steamID, currencyID string) (config.Currency, error) {
	if steamID == "" {
		return config.Currency{}, ErrInvalidAccount
	}

	cur, err := l.currencies.Resolve(currencyID)
	if err != nil {
		return config.Currency{}, err
	}

	return cur, nil
}

// Balance returns the spendable balance of one account key. Keys that were
// never touched report the currency's starting balance.
func (l *Ledger) Balance(steamID, currencyID string) (int64, error) {
	cur, err := l.resolve(steamID, currencyID)
	if err != nil {
		return 0, err
	}

	return l.balanceOf(steamID, cur), nil
}

func (l *Ledger) balanceOf(steamID string, cur config.Currency) int64 {
	l.mu.RLock()
	acc, ok := l.accounts[accountKey{steamID, cur.ID}]
	l.mu.RUnlock()

	if !ok {
		return cur.Start
	}

	acc.mu.RLock()
	defer acc.mu.RUnlock()

	if !acc.opened {
		return cur.Start
	}

	return acc.balance
}

// Balances returns the balance of steamID in every configured currency.
func (l *Ledger) Balances(steamID string) (map[string]int64, error) {
	if steamID == "" {
		return nil, ErrInvalidAccount
	}

	out := make(map[string]int64, len(l.currencies))
	for _, cur := range l.currencies {
		out[cur.ID] = l.balanceOf(steamID, cur)
	}

	return out, nil
}

type AccountBalance struct {
	SteamID    string
	CurrencyID string
	Balance    int64
	Pending    ReservationID
}

// Accounts lists every key that has been opened, ordered by steam id and
// then currency id. Keys still at their starting balance without any
// history are not listed.
func (l *Ledger) Accounts() []AccountBalance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]AccountBalance, 0, len(l.accounts))

	for k, acc := range l.accounts {
		acc.mu.RLock()
		if acc.opened {
			out = append(out, AccountBalance{
				SteamID:    k.steamID,
				CurrencyID: k.currencyID,
				Balance:    acc.balance,
				Pending:    acc.pending,
			})
		}
		acc.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SteamID != out[j].SteamID {
			return out[i].SteamID < out[j].SteamID
		}

		return out[i].CurrencyID < out[j].CurrencyID
	})

	return out
}

// Reservation returns a copy of the reservation with the given id.
func (l *Ledger) Reservation(id ReservationID) (Reservation, error) {
	l.resMu.RLock()
	defer l.resMu.RUnlock()

	r, ok := l.reservations[id]
	if !ok {
		return Reservation{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	return *r, nil
}

// Pending returns every pending reservation ordered by id.
func (l *Ledger) Pending() []Reservation {
	l.resMu.RLock()
	defer l.resMu.RUnlock()

	var out []Reservation

	for _, r := range l.reservations {
		if r.State == StatePending {
			out = append(out, *r)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// append writes rec to the journal. The caller holds the key's critical
// section and has not yet touched memory. Cancellation of ctx no longer
// applies once the record is handed to the journal.
func (l *Ledger) append(ctx context.Context, rec journal.Record) (journal.Record, error) {
	stored, err := l.log.Append(context.WithoutCancel(ctx), rec)
	if err != nil {
		return journal.Record{}, fmt.Errorf("%w: %s: %w", ErrPersistence, rec.Kind, err)
	}

	return stored, nil
}

// ensureOpened journals the starting balance of a key on its first mutation.
// The caller holds the key's critical section.
func (l *Ledger) ensureOpened(ctx context.Context, acc *account, steamID string, cur config.Currency) error {
	acc.mu.RLock()
	opened := acc.opened
	acc.mu.RUnlock()

	if opened {
		return nil
	}

	_, err := l.append(ctx, journal.Record{
		Kind:       journal.KindOpened,
		SteamID:    steamID,
		CurrencyID: cur.ID,
		Amount:     cur.Start,
	})
	if err != nil {
		return err
	}

	acc.mu.Lock()
	acc.opened = true
	acc.balance = cur.Start
	acc.mu.Unlock()

	return nil
}
