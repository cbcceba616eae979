package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/marketplace-ledger/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса маркетплейса.
// Все маршруты API доступны как от корня, так и с префиксом /api.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(h.metrics.Middleware)

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Group(h.routes)
	r.Route("/api", h.routes)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: http.StatusText(http.StatusNotFound)})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: http.StatusText(http.StatusMethodNotAllowed)})
	})

	return r
}

func (h *Handler) routes(r chi.Router) {
	r.Post("/checkout", h.Checkout)

	r.Route("/payments", func(r chi.Router) {
		r.Post("/checkout", h.Checkout)
		r.Get("/verify", h.VerifyPayment)
		r.Get("/status", h.PaymentStatus)

		r.Group(func(r chi.Router) {
			r.Use(h.signature.Middleware)

			r.Post("/callback", h.PaymentCallback)
			r.Post("/chapa/callback", h.PaymentCallback)
		})
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/auto-complete", h.AutoComplete)
		r.Post("/{id}/complete", h.CompleteOrder)
		r.Post("/{id}/confirm-delivery", h.ConfirmDelivery)
		r.Post("/{id}/cancel", h.CancelOrder)
	})

	r.Route("/vendors", func(r chi.Router) {
		r.Post("/wallet/withdrawals", h.RequestWithdrawal)
		r.Get("/{id}/wallet", h.Wallet)
		r.Get("/{id}/wallet/ledger", h.Ledger)
		r.Get("/{id}/wallet/withdrawals", h.Withdrawals)
		r.Post("/{id}/orders/{orderID}/status", h.UpdateFulfilment)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/payments/reconcile", h.Reconcile)
		r.Get("/vendors/{id}/wallet/audit", h.AuditWallet)
		r.Post("/wallet/withdrawals/{id}/process", h.ProcessWithdrawal)
	})
}
