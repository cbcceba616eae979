package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/ecodeclub/ekit/slice"

	"github.com/mmeshcher/marketplace-ledger/internal/model"
)

type walletResponse struct {
	VendorID int64   `json:"vendor_id"`
	Balance  float64 `json:"balance"`
	Pending  float64 `json:"pending"`
}

// Wallet возвращает кошелёк продавца.
func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request) {
	vendorID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	wallet, err := h.service.Wallet(r.Context(), vendorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, walletResponse{
		VendorID: vendorID,
		Balance:  model.ToAmount(wallet.Balance),
		Pending:  model.ToAmount(wallet.Pending),
	})
}

type ledgerEntryResponse struct {
	ID             int64    `json:"id"`
	Type           string   `json:"type"`
	Amount         float64  `json:"amount"`
	OrderID        *int64   `json:"order_id"`
	ParentOrderID  *int64   `json:"parent_order_id"`
	Description    string   `json:"description"`
	CommissionRate *float64 `json:"commission_rate"`
	Commission     *float64 `json:"commission"`
	CreatedAt      string   `json:"created_at"`
}

func toLedgerEntry(_ int, e model.LedgerEntry) ledgerEntryResponse {
	var rate *float64
	if e.CommissionRate != nil {
		v := e.CommissionRate.InexactFloat64()
		rate = &v
	}
	return ledgerEntryResponse{
		ID:             e.ID,
		Type:           string(e.Type),
		Amount:         model.ToAmount(e.Amount),
		OrderID:        e.OrderID,
		ParentOrderID:  e.ParentOrderID,
		Description:    e.Description,
		CommissionRate: rate,
		Commission:     amountPtr(e.Commission),
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
	}
}

// Ledger возвращает последние проводки продавца, начиная с новых.
func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	vendorID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entries, err := h.service.Ledger(r.Context(), vendorID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, slice.Map(entries, toLedgerEntry))
}

type balanceResponse struct {
	Balance float64 `json:"balance"`
	Pending float64 `json:"pending"`
}

type auditResponse struct {
	VendorID   int64           `json:"vendor_id"`
	Consistent bool            `json:"consistent"`
	Entries    int             `json:"entries"`
	Wallet     balanceResponse `json:"wallet"`
	Replayed   balanceResponse `json:"replayed"`
}

// AuditWallet сравнивает кошелёк продавца с результатом воспроизведения журнала.
func (h *Handler) AuditWallet(w http.ResponseWriter, r *http.Request) {
	vendorID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	audit, err := h.service.AuditWallet(r.Context(), vendorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, auditResponse{
		VendorID:   vendorID,
		Consistent: audit.Consistent,
		Entries:    audit.Entries,
		Wallet: balanceResponse{
			Balance: model.ToAmount(audit.Wallet.Balance),
			Pending: model.ToAmount(audit.Wallet.Pending),
		},
		Replayed: balanceResponse{
			Balance: model.ToAmount(audit.Replayed.Available),
			Pending: model.ToAmount(audit.Replayed.Pending),
		},
	})
}

type withdrawalRequest struct {
	VendorID   int64   `json:"vendor_id"`
	Amount     float64 `json:"amount"`
	Method     string  `json:"method"`
	AccountRef string  `json:"account_ref"`
}

type withdrawalStatusResponse struct {
	ID               int64  `json:"id"`
	Status           string `json:"status"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
}

// RequestWithdrawal создаёт заявку продавца на вывод средств.
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	amount, err := model.FromAmount(req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	wd, err := h.service.RequestWithdrawal(r.Context(), req.VendorID, amount, req.Method, req.AccountRef)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, withdrawalStatusResponse{ID: wd.ID, Status: string(wd.Status)})
}

type withdrawalResponse struct {
	ID         int64   `json:"id"`
	VendorID   int64   `json:"vendor_id"`
	Amount     float64 `json:"amount"`
	Status     string  `json:"status"`
	Method     string  `json:"method"`
	AccountRef string  `json:"account_ref"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

// Withdrawals возвращает заявки продавца на вывод.
func (h *Handler) Withdrawals(w http.ResponseWriter, r *http.Request) {
	vendorID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	list, err := h.service.Withdrawals(r.Context(), vendorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, slice.Map(list, func(_ int, wd model.Withdrawal) withdrawalResponse {
		return withdrawalResponse{
			ID:         wd.ID,
			VendorID:   wd.VendorID,
			Amount:     model.ToAmount(wd.Amount),
			Status:     string(wd.Status),
			Method:     wd.Method,
			AccountRef: wd.AccountRef,
			CreatedAt:  wd.CreatedAt.Format(time.RFC3339),
			UpdatedAt:  wd.UpdatedAt.Format(time.RFC3339),
		}
	}))
}

type processRequest struct {
	Action string `json:"action"`
}

// ProcessWithdrawal выполняет действие оператора над заявкой: paid или rejected.
// Повторная обработка не меняет заявку и возвращает её текущий статус.
func (h *Handler) ProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req processRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	wd, err := h.service.ProcessWithdrawal(r.Context(), id, req.Action)
	if errors.Is(err, model.ErrAlreadyProcessed) && wd != nil {
		writeJSON(w, http.StatusOK, withdrawalStatusResponse{ID: wd.ID, Status: string(wd.Status), AlreadyProcessed: true})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, withdrawalStatusResponse{ID: wd.ID, Status: string(wd.Status)})
}
