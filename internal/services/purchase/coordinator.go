// Package purchase drives a single purchase through rate limiting, fund
// reservation, the item grant and final settlement.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/fastprodman/purchaseledger/internal/config"
	"github.com/fastprodman/purchaseledger/internal/services/ledger"
	"github.com/fastprodman/purchaseledger/internal/services/ratelimit"
)

const (
	DefaultLockTimeout  = 500 * time.Millisecond
	DefaultGrantTimeout = 5 * time.Second
	DefaultMaxInFlight  = 64
)

type RateChecker interface {
	Check(steamID string) ratelimit.Decision
}

type Reserver interface {
	Currencies() config.Currencies
	Reserve(ctx context.Context, steamID, currencyID string, amount int64) (ledger.ReservationID, error)
	Commit(ctx context.Context, id ledger.ReservationID) error
	Rollback(ctx context.Context, id ledger.ReservationID) error
}

// Granter delivers the purchased item. It runs between reservation and
// settlement, with no ledger lock held.
type Granter interface {
	Grant(ctx context.Context, req GrantRequest) error
}

type GrantRequest struct {
	PurchaseID    string              `json:"purchaseId"`
	ReservationID ledger.ReservationID `json:"reservationId"`
	SteamID       string              `json:"steamId"`
	ItemClass     string              `json:"itemClass"`
	Quantity      float64             `json:"quantity"`
	QuantityType  int                 `json:"quantityType"`
	ContentType   int                 `json:"contentType"`
	CurrencyID    string              `json:"currencyId"`
	Price         int64               `json:"price"`
}

type Request struct {
	SteamID      string
	ItemClass    string
	Price        int64
	CurrencyID   string
	Quantity     float64
	QuantityType int
	ContentType  int
}

func (r Request) validate() error {
	var problems []string

	if strings.TrimSpace(r.SteamID) == "" {
		problems = append(problems, "steamId required")
	}

	if strings.TrimSpace(r.ItemClass) == "" {
		problems = append(problems, "itemClass required")
	}

	if r.Price <= 0 {
		problems = append(problems, "price must be positive")
	}

	if r.Quantity < 0 {
		problems = append(problems, "quantity must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}

	return nil
}

type State string

const (
	StateReceived    State = "received"
	StateRateChecked State = "rate_checked"
	StateReserved    State = "reserved"
	StateCommitted   State = "committed"
	StateRolledBack  State = "rolled_back"
)

// Receipt describes how far a purchase got. It is returned alongside errors
// too, so callers can tell a reservation that was rolled back from one that
// was never made.
type Receipt struct {
	PurchaseID    string
	ReservationID ledger.ReservationID
	SteamID       string
	CurrencyID    string
	Amount        int64
	State         State
}

type Config struct {
	LockTimeout  time.Duration
	GrantTimeout time.Duration
	MaxInFlight  int64
}

type Coordinator struct {
	limiter RateChecker
	ledger  Reserver
	granter Granter
	cfg     Config
	sem     *semaphore.Weighted
}

func New(limiter RateChecker, led Reserver, granter Granter, cfg Config) *Coordinator {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	if cfg.GrantTimeout <= 0 {
		cfg.GrantTimeout = DefaultGrantTimeout
	}

	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}

	return &Coordinator{
		limiter: limiter,
		ledger:  led,
		granter: granter,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
	}
}

// Purchase runs one purchase to a terminal state. Nothing is retried; a
// caller that wants another attempt sends a new request.
func (c *Coordinator) Purchase(ctx context.Context, req Request) (Receipt, error) {
	rc := Receipt{
		PurchaseID: uuid.NewString(),
		SteamID:    req.SteamID,
		CurrencyID: req.CurrencyID,
		Amount:     req.Price,
		State:      StateReceived,
	}

	log := slog.With("purchase_id", rc.PurchaseID, "steam_id", req.SteamID)

	err := req.validate()
	if err != nil {
		log.Debug("purchase rejected", "error", err)
		return rc, err
	}

	// Resolved before the rate check so a bad currency costs no admission.
	cur, err := c.ledger.Currencies().Resolve(req.CurrencyID)
	if err != nil {
		log.Debug("purchase rejected", "error", err)
		return rc, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	req.CurrencyID = cur.ID
	rc.CurrencyID = cur.ID

	err = c.sem.Acquire(ctx, 1)
	if err != nil {
		return rc, fmt.Errorf("%w: waiting for a purchase slot: %w", ErrTimeout, err)
	}
	defer c.sem.Release(1)

	dec := c.limiter.Check(req.SteamID)
	if !dec.Allowed {
		log.Info("purchase rate limited", "retry_after", dec.RetryAfter)
		return rc, &RateLimitError{RetryAfter: dec.RetryAfter}
	}

	rc.State = StateRateChecked

	lockCtx, cancel := context.WithTimeout(ctx, c.cfg.LockTimeout)
	id, err := c.ledger.Reserve(lockCtx, req.SteamID, req.CurrencyID, req.Price)
	cancel()

	if err != nil {
		log.Info("reservation refused", "kind", KindOf(err), "error", err)
		return rc, err
	}

	rc.ReservationID = id
	rc.State = StateReserved
	log = log.With("reservation_id", id)
	log.Debug("funds reserved", "amount", req.Price)

	grantErr := c.grant(ctx, rc, req)

	// Settlement must happen even if the caller has gone away.
	settleCtx := context.WithoutCancel(ctx)

	if grantErr != nil {
		err = c.ledger.Rollback(settleCtx, id)
		if err != nil {
			log.Error("rollback after failed grant", "grant_error", grantErr, "error", err)
			return rc, fmt.Errorf("roll back reservation %d: %w", id, err)
		}

		rc.State = StateRolledBack
		log.Warn("purchase rolled back", "kind", KindOf(grantErr), "error", grantErr)

		return rc, grantErr
	}

	err = c.ledger.Commit(settleCtx, id)
	if err != nil {
		log.Error("commit after grant", "error", err)
		return rc, fmt.Errorf("commit reservation %d: %w", id, err)
	}

	rc.State = StateCommitted
	log.Info("purchase committed", "item_class", req.ItemClass, "amount", req.Price)

	return rc, nil
}

// grant calls the granter under GrantTimeout and classifies its failure.
func (c *Coordinator) grant(ctx context.Context, rc Receipt, req Request) error {
	grantCtx, cancel := context.WithTimeout(ctx, c.cfg.GrantTimeout)
	defer cancel()

	err := c.granter.Grant(grantCtx, GrantRequest{
		PurchaseID:    rc.PurchaseID,
		ReservationID: rc.ReservationID,
		SteamID:       req.SteamID,
		ItemClass:     req.ItemClass,
		Quantity:      req.Quantity,
		QuantityType:  req.QuantityType,
		ContentType:   req.ContentType,
		CurrencyID:    req.CurrencyID,
		Price:         req.Price,
	})

	switch {
	case err == nil:
		return nil
	case grantCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: grant: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrGrantFailed, err)
	}
}
