package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs a chi router with all API endpoints registered.
func NewRouter(p Purchaser, l Ledger, lockTimeout time.Duration) http.Handler {
	h := NewHandler(p, l, lockTimeout)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/rpc", func(r chi.Router) {
		r.Post("/PurchaseItemRequest", h.PurchaseItemHandler)
		r.Post("/ReserveFunds", h.ReserveFundsHandler)
		r.Post("/ConfirmReservation", h.ConfirmReservationHandler)
		r.Post("/ReleaseReservation", h.ReleaseReservationHandler)
		r.Post("/AddBalance", h.AddBalanceHandler)
	})

	r.Get("/api/balance/{steamId}", h.GetBalanceHandler)

	return r
}
