package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ecodeclub/ekit/slice"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-ledger/internal/gateway"
	"github.com/mmeshcher/marketplace-ledger/internal/model"
	"github.com/mmeshcher/marketplace-ledger/internal/service"
)

type cartItem struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Color     string `json:"color,omitempty"`
	Size      string `json:"size,omitempty"`
}

type checkoutRequest struct {
	BuyerID   int64           `json:"buyer_id"`
	Items     []cartItem      `json:"items"`
	Shipping  json.RawMessage `json:"shipping"`
	SplitMode string          `json:"split_mode"`
	Currency  string          `json:"currency"`
	Group     *bool           `json:"group"`
	Email     string          `json:"email"`
	FirstName string          `json:"first_name"`
	LastName  string          `json:"last_name"`
	Phone     string          `json:"phone"`
}

type checkoutResponse struct {
	Mode          string  `json:"mode"`
	ParentOrderID *int64  `json:"parent_order_id"`
	OrderIDs      []int64 `json:"order_ids"`
	TxRef         string  `json:"tx_ref"`
	CheckoutURL   string  `json:"checkout_url"`
	TotalAmount   float64 `json:"total_amount"`
	Currency      string  `json:"currency"`
}

type sessionResponse struct {
	OrderID     int64   `json:"order_id"`
	TxRef       string  `json:"tx_ref"`
	CheckoutURL string  `json:"checkout_url"`
	Amount      float64 `json:"amount"`
}

type perVendorResponse struct {
	Mode     string            `json:"mode"`
	Sessions []sessionResponse `json:"sessions"`
	Currency string            `json:"currency"`
}

// Checkout оформляет корзину покупателя и возвращает платёжные сессии.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.Checkout(r.Context(), service.CheckoutRequest{
		BuyerID: req.BuyerID,
		Items: slice.Map(req.Items, func(_ int, it cartItem) model.CartLine {
			return model.CartLine{ProductID: it.ProductID, Quantity: it.Quantity, Color: it.Color, Size: it.Size}
		}),
		Shipping:  req.Shipping,
		SplitMode: service.SplitMode(strings.ToLower(strings.TrimSpace(req.SplitMode))),
		Currency:  req.Currency,
		Group:     req.Group,
		Contact: gateway.Customer{
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Phone:     req.Phone,
		},
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if res.Mode == service.SplitPerVendor {
		writeJSON(w, http.StatusOK, perVendorResponse{
			Mode: string(res.Mode),
			Sessions: slice.Map(res.Sessions, func(_ int, s service.Session) sessionResponse {
				return sessionResponse{OrderID: s.OrderID, TxRef: s.TxRef, CheckoutURL: s.CheckoutURL, Amount: model.ToAmount(s.Amount)}
			}),
			Currency: res.Currency,
		})
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		Mode:          string(res.Mode),
		ParentOrderID: res.ParentOrderID,
		OrderIDs:      res.OrderIDs,
		TxRef:         res.TxRef,
		CheckoutURL:   res.CheckoutURL,
		TotalAmount:   model.ToAmount(res.Total),
		Currency:      res.Currency,
	})
}

type webhookPayload struct {
	TxRef     string `json:"tx_ref"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

type webhookResponse struct {
	OK               bool    `json:"ok"`
	TxRef            string  `json:"tx_ref"`
	Updated          []int64 `json:"updated"`
	AlreadyProcessed bool    `json:"already_processed,omitempty"`
}

// PaymentCallback обрабатывает уведомление шлюза. Подпись проверяется middleware до вызова.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	txRef, err := webhookTxRef(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.HandleWebhook(r.Context(), txRef)
	if err != nil {
		if errors.Is(err, model.ErrPaymentNotSuccessful) {
			h.logger.Info("webhook reported unsuccessful payment", zap.String("tx_ref", txRef))
		}
		h.writeError(w, r, err)
		return
	}

	updated := res.Updated
	if updated == nil {
		updated = []int64{}
	}
	writeJSON(w, http.StatusOK, webhookResponse{
		OK:               true,
		TxRef:            res.TxRef,
		Updated:          updated,
		AlreadyProcessed: res.AlreadyProcessed,
	})
}

// webhookTxRef извлекает ссылку на транзакцию из JSON или формы; поле reference принимается как синоним tx_ref.
func webhookTxRef(r *http.Request) (string, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", fmt.Errorf("%w: unreadable body", model.ErrInvalidInput)
	}

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return "", fmt.Errorf("%w: malformed webhook body", model.ErrInvalidInput)
		}
		p.TxRef = values.Get("tx_ref")
		p.Reference = values.Get("reference")
	}

	txRef := strings.TrimSpace(p.TxRef)
	if txRef == "" {
		txRef = strings.TrimSpace(p.Reference)
	}
	if txRef == "" {
		return "", fmt.Errorf("%w: tx_ref is required", model.ErrInvalidInput)
	}
	return txRef, nil
}

type verifyResponse struct {
	OK            bool     `json:"ok"`
	TxRef         string   `json:"tx_ref"`
	OrderID       *int64   `json:"order_id"`
	ParentOrderID *int64   `json:"parent_order_id"`
	Amount        *float64 `json:"amount"`
	Currency      *string  `json:"currency"`
	Status        string   `json:"status"`
}

// VerifyPayment проверяет платёж по tx_ref и применяет результат к заказам.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.VerifyPayment(r.Context(), r.URL.Query().Get("tx_ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var currency *string
	if res.Currency != "" {
		currency = &res.Currency
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		OK:            res.OK,
		TxRef:         res.TxRef,
		OrderID:       res.OrderID,
		ParentOrderID: res.ParentOrderID,
		Amount:        amountPtr(res.Amount),
		Currency:      currency,
		Status:        strings.ToLower(res.Status),
	})
}

type trailEventResponse struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// PaymentStatus возвращает журнал состояния платежа.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	trail, err := h.service.PaymentStatus(r.Context(), r.URL.Query().Get("tx_ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, slice.Map(trail, func(_ int, e service.TrailEvent) trailEventResponse {
		return trailEventResponse{ID: e.ID, Event: e.Event, Status: e.Status, CreatedAt: e.CreatedAt.Format(time.RFC3339)}
	}))
}

type reconcileResponse struct {
	OK      bool    `json:"ok"`
	Checked int     `json:"checked"`
	Updated int     `json:"updated"`
	Orders  []int64 `json:"orders"`
}

// Reconcile запускает сверку неоплаченных заказов за последние hours часов.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 24)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.Reconcile(r.Context(), time.Duration(hours)*time.Hour, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, reconcileResponse{
		OK:      true,
		Checked: res.Checked,
		Updated: len(res.Updated),
		Orders:  res.Updated,
	})
}
