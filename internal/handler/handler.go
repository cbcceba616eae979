// Package handler содержит HTTP-обработчики API маркетплейса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-ledger/internal/metrics"
	"github.com/mmeshcher/marketplace-ledger/internal/middleware"
	"github.com/mmeshcher/marketplace-ledger/internal/model"
	"github.com/mmeshcher/marketplace-ledger/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error

	Checkout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	HandleWebhook(ctx context.Context, txRef string) (*service.ApplyResult, error)
	VerifyPayment(ctx context.Context, txRef string) (*service.VerifyResult, error)
	PaymentStatus(ctx context.Context, txRef string) ([]service.TrailEvent, error)
	Reconcile(ctx context.Context, lookback time.Duration, limit int) (*service.SweepResult, error)

	Wallet(ctx context.Context, vendorID int64) (model.Wallet, error)
	Ledger(ctx context.Context, vendorID int64, limit int) ([]model.LedgerEntry, error)
	AuditWallet(ctx context.Context, vendorID int64) (*service.WalletAudit, error)
	RequestWithdrawal(ctx context.Context, vendorID, amount int64, method, accountRef string) (*model.Withdrawal, error)
	Withdrawals(ctx context.Context, vendorID int64) ([]model.Withdrawal, error)
	ProcessWithdrawal(ctx context.Context, id int64, action string) (*model.Withdrawal, error)

	AutoComplete(ctx context.Context, days int) (int, error)
	CompleteOrder(ctx context.Context, orderID int64, method, reference string) (*model.Order, error)
	ConfirmDelivery(ctx context.Context, orderID, buyerID int64) (*model.Order, error)
	CancelOrder(ctx context.Context, orderID, buyerID int64) (*model.Order, error)
	UpdateFulfilment(ctx context.Context, vendorID, orderID int64, status model.OrderStatus) (*model.Order, error)
}

// Handler реализует HTTP-обработчики API маркетплейса.
type Handler struct {
	service   Service
	logger    *zap.Logger
	signature *middleware.SignatureMiddleware
	metrics   *metrics.Metrics
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов. m может быть nil.
func NewHandler(s Service, logger *zap.Logger, signature *middleware.SignatureMiddleware, m *metrics.Metrics) *Handler {
	return &Handler{
		service:   s,
		logger:    logger,
		signature: signature,
		metrics:   m,
	}
}

// Health проверяет доступность базы данных.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON разбирает тело запроса. Пустое тело допустимо только при optional.
func decodeJSON(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: malformed JSON body", model.ErrInvalidInput)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", model.ErrInvalidInput, name)
	}
	return id, nil
}

// queryInt читает целый параметр запроса; отсутствующий параметр даёт def.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", model.ErrInvalidInput, name)
	}
	return v, nil
}

func amountPtr(cents *int64) *float64 {
	if cents == nil {
		return nil
	}
	v := model.ToAmount(*cents)
	return &v
}
