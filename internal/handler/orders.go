package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmeshcher/marketplace-ledger/internal/model"
)

type orderStatusResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

type autoCompleteResponse struct {
	OK            bool `json:"ok"`
	AutoCompleted int  `json:"auto_completed"`
}

// AutoComplete завершает оплаченные заказы, не менявшиеся дольше days дней.
func (h *Handler) AutoComplete(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	n, err := h.service.AutoComplete(r.Context(), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, autoCompleteResponse{OK: true, AutoCompleted: n})
}

type completeRequest struct {
	PaymentMethod    string `json:"payment_method"`
	PaymentReference string `json:"payment_reference"`
}

type completeResponse struct {
	ID               int64  `json:"id"`
	Status           string `json:"status"`
	PaymentStatus    string `json:"payment_status"`
	PaymentMethod    string `json:"payment_method"`
	PaymentReference string `json:"payment_reference"`
}

// CompleteOrder завершает заказ после оплаты.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req completeRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.writeError(w, r, err)
		return
	}

	o, err := h.service.CompleteOrder(r.Context(), id, req.PaymentMethod, req.PaymentReference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, completeResponse{
		ID:               o.ID,
		Status:           string(o.Status),
		PaymentStatus:    string(o.PaymentStatus),
		PaymentMethod:    o.PaymentMethod,
		PaymentReference: o.PaymentReference,
	})
}

type buyerRequest struct {
	BuyerID int64 `json:"buyer_id"`
}

// ConfirmDelivery завершает заказ по подтверждению покупателя.
func (h *Handler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	h.buyerAction(w, r, h.service.ConfirmDelivery)
}

// CancelOrder отменяет неоплаченный заказ покупателя.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.buyerAction(w, r, h.service.CancelOrder)
}

func (h *Handler) buyerAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, orderID, buyerID int64) (*model.Order, error),
) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req buyerRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.BuyerID <= 0 {
		h.writeError(w, r, fmt.Errorf("%w: buyer_id is required", model.ErrInvalidInput))
		return
	}

	o, err := action(r.Context(), id, req.BuyerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orderStatusResponse{ID: o.ID, Status: string(o.Status)})
}

type fulfilmentRequest struct {
	Status string `json:"status"`
}

// UpdateFulfilment меняет статус исполнения заказа продавцом.
func (h *Handler) UpdateFulfilment(w http.ResponseWriter, r *http.Request) {
	vendorID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req fulfilmentRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	status := model.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	o, err := h.service.UpdateFulfilment(r.Context(), vendorID, orderID, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orderStatusResponse{ID: o.ID, Status: string(o.Status)})
}
