package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fastprodman/purchaseledger/internal/services/ledger"
	"github.com/fastprodman/purchaseledger/internal/services/purchase"
)

type Purchaser interface {
	Purchase(ctx context.Context, req purchase.Request) (purchase.Receipt, error)
}

// Ledger is the subset of *ledger.Ledger the administrative endpoints use.
type Ledger interface {
	Reserve(ctx context.Context, steamID, currencyID string, amount int64) (ledger.ReservationID, error)
	Commit(ctx context.Context, id ledger.ReservationID) error
	Rollback(ctx context.Context, id ledger.ReservationID) error
	Deposit(ctx context.Context, steamID, currencyID string, amount int64) error
	Balances(steamID string) (map[string]int64, error)
}

// HandlerProvider exposes the purchase coordinator and the ledger over HTTP.
type HandlerProvider struct {
	purchases   Purchaser
	ledger      Ledger
	lockTimeout time.Duration
}

// NewHandler returns a provider whose direct ledger calls give up waiting for
// an account after lockTimeout. Non-positive values use the purchase default.
func NewHandler(p Purchaser, l Ledger, lockTimeout time.Duration) *HandlerProvider {
	if lockTimeout <= 0 {
		lockTimeout = purchase.DefaultLockTimeout
	}

	return &HandlerProvider{purchases: p, ledger: l, lockTimeout: lockTimeout}
}

func (h *HandlerProvider) lockContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.lockTimeout)
}

// --- Helpers ---

type errorResponse struct {
	Success bool          `json:"success"`
	Error   string        `json:"error"`
	Kind    purchase.Kind `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func statusOf(kind purchase.Kind) int {
	switch kind {
	case purchase.KindInvalidRequest:
		return http.StatusBadRequest
	case purchase.KindRateLimited:
		return http.StatusTooManyRequests
	case purchase.KindInsufficientFunds,
		purchase.KindReservationConflict,
		purchase.KindInvalidState:
		return http.StatusConflict
	case purchase.KindNotFound:
		return http.StatusNotFound
	case purchase.KindTimeout:
		return http.StatusGatewayTimeout
	case purchase.KindGrantFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure reports err with the status and message its kind calls for.
// Internal details stay in the log.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	kind := purchase.KindOf(err)
	status := statusOf(kind)

	msg := err.Error()

	switch kind {
	case purchase.KindRateLimited:
		var rle *purchase.RateLimitError
		if errors.As(err, &rle) {
			secs := int64(math.Ceil(rle.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.FormatInt(max(secs, 1), 10))
		}

		msg = purchase.ErrRateLimited.Error()
	case purchase.KindPersistenceFailure, purchase.KindInternal:
		slog.Error("request failed",
			"request_id", middleware.GetReqID(r.Context()), "kind", kind, "error", err)

		msg = "internal error"
	}

	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Kind: purchase.KindInvalidRequest})
}

// decode reads a JSON body into dst. Bodies are capped at 1MB and unknown
// fields are rejected.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		if errors.Is(err, io.EOF) {
			badRequest(w, "empty body")
			return false
		}

		badRequest(w, fmt.Sprintf("invalid JSON: %v", err))

		return false
	}

	return true
}

// --- Handlers ---

type purchaseRequest struct {
	SteamID      string  `json:"steamId"`
	ItemClass    string  `json:"itemClass"`
	Price        int64   `json:"price"`
	CurrencyID   string  `json:"currencyId"`
	Quantity     float64 `json:"quantity"`
	QuantityType int     `json:"quantityType"`
	ContentType  int     `json:"contentType"`
}

type purchaseResponse struct {
	Success       bool                 `json:"success"`
	PurchaseID    string               `json:"purchaseId"`
	ReservationID ledger.ReservationID `json:"reservationId"`
}

// PurchaseItemHandler handles POST /rpc/PurchaseItemRequest
func (h *HandlerProvider) PurchaseItemHandler(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !decode(w, r, &req) {
		return
	}

	rc, err := h.purchases.Purchase(r.Context(), purchase.Request{
		SteamID:      strings.TrimSpace(req.SteamID),
		ItemClass:    req.ItemClass,
		Price:        req.Price,
		CurrencyID:   req.CurrencyID,
		Quantity:     req.Quantity,
		QuantityType: req.QuantityType,
		ContentType:  req.ContentType,
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, purchaseResponse{
		Success:       true,
		PurchaseID:    rc.PurchaseID,
		ReservationID: rc.ReservationID,
	})
}

type fundsRequest struct {
	SteamID    string `json:"steamId"`
	Amount     int64  `json:"amount"`
	CurrencyID string `json:"currencyId"`
}

type reservationRequest struct {
	ReservationID ledger.ReservationID `json:"reservationId"`
}

type successResponse struct {
	Success       bool                 `json:"success"`
	ReservationID ledger.ReservationID `json:"reservationId,omitempty"`
}

// ReserveFundsHandler handles POST /rpc/ReserveFunds. It reserves directly on
// the ledger, without rate limiting or a grant.
func (h *HandlerProvider) ReserveFundsHandler(w http.ResponseWriter, r *http.Request) {
	var req fundsRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := h.lockContext(r)
	defer cancel()

	id, err := h.ledger.Reserve(ctx, strings.TrimSpace(req.SteamID), req.CurrencyID, req.Amount)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true, ReservationID: id})
}

// ConfirmReservationHandler handles POST /rpc/ConfirmReservation
func (h *HandlerProvider) ConfirmReservationHandler(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, h.ledger.Commit)
}

// ReleaseReservationHandler handles POST /rpc/ReleaseReservation
func (h *HandlerProvider) ReleaseReservationHandler(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, h.ledger.Rollback)
}

func (h *HandlerProvider) settle(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, ledger.ReservationID) error,
) {
	var req reservationRequest
	if !decode(w, r, &req) {
		return
	}

	if req.ReservationID == 0 {
		badRequest(w, "reservationId required")
		return
	}

	ctx, cancel := h.lockContext(r)
	defer cancel()

	err := op(ctx, req.ReservationID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true, ReservationID: req.ReservationID})
}

// AddBalanceHandler handles POST /rpc/AddBalance
func (h *HandlerProvider) AddBalanceHandler(w http.ResponseWriter, r *http.Request) {
	var req fundsRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := h.lockContext(r)
	defer cancel()

	err := h.ledger.Deposit(ctx, strings.TrimSpace(req.SteamID), req.CurrencyID, req.Amount)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

type balanceResponse struct {
	SteamID string           `json:"steamId"`
	Balance map[string]int64 `json:"balance"`
}

// GetBalanceHandler handles GET /api/balance/{steamId}
func (h *HandlerProvider) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	steamID := strings.TrimSpace(chi.URLParam(r, "steamId"))

	bal, err := h.ledger.Balances(steamID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{SteamID: steamID, Balance: bal})
}
