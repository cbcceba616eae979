package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-ledger/internal/gateway"
	"github.com/mmeshcher/marketplace-ledger/internal/ledger"
	"github.com/mmeshcher/marketplace-ledger/internal/metrics"
	"github.com/mmeshcher/marketplace-ledger/internal/middleware"
	"github.com/mmeshcher/marketplace-ledger/internal/model"
	"github.com/mmeshcher/marketplace-ledger/internal/service"
)

const testWebhookSecret = "whsec-test"

type stubService struct {
	pingErr error

	checkoutReq  service.CheckoutRequest
	checkoutResp *service.CheckoutResult
	checkoutErr  error

	webhookCalls []string
	webhookResp  *service.ApplyResult
	webhookErr   error

	verifyResp *service.VerifyResult
	verifyErr  error

	trailResp []service.TrailEvent
	trailErr  error

	reconcileLookback time.Duration
	reconcileLimit    int
	reconcileResp     *service.SweepResult
	reconcileErr      error

	walletResp model.Wallet
	walletErr  error

	ledgerLimit int
	ledgerResp  []model.LedgerEntry
	ledgerErr   error

	auditResp *service.WalletAudit
	auditErr  error

	withdrawAmount int64
	withdrawResp   *model.Withdrawal
	withdrawErr    error

	withdrawalsResp []model.Withdrawal
	withdrawalsErr  error

	processAction string
	processResp   *model.Withdrawal
	processErr    error

	autoDays int
	autoResp int
	autoErr  error

	completeMethod string
	orderResp      *model.Order
	orderErr       error

	buyerID        int64
	vendorID       int64
	orderID        int64
	fulfilmentWant model.OrderStatus
}

func (s *stubService) Ping(ctx context.Context) error {
	return s.pingErr
}

func (s *stubService) Checkout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error) {
	s.checkoutReq = req
	return s.checkoutResp, s.checkoutErr
}

func (s *stubService) HandleWebhook(ctx context.Context, txRef string) (*service.ApplyResult, error) {
	s.webhookCalls = append(s.webhookCalls, txRef)
	return s.webhookResp, s.webhookErr
}

func (s *stubService) VerifyPayment(ctx context.Context, txRef string) (*service.VerifyResult, error) {
	return s.verifyResp, s.verifyErr
}

func (s *stubService) PaymentStatus(ctx context.Context, txRef string) ([]service.TrailEvent, error) {
	return s.trailResp, s.trailErr
}

func (s *stubService) Reconcile(ctx context.Context, lookback time.Duration, limit int) (*service.SweepResult, error) {
	s.reconcileLookback, s.reconcileLimit = lookback, limit
	return s.reconcileResp, s.reconcileErr
}

func (s *stubService) Wallet(ctx context.Context, vendorID int64) (model.Wallet, error) {
	s.vendorID = vendorID
	return s.walletResp, s.walletErr
}

func (s *stubService) Ledger(ctx context.Context, vendorID int64, limit int) ([]model.LedgerEntry, error) {
	s.vendorID, s.ledgerLimit = vendorID, limit
	return s.ledgerResp, s.ledgerErr
}

func (s *stubService) AuditWallet(ctx context.Context, vendorID int64) (*service.WalletAudit, error) {
	return s.auditResp, s.auditErr
}

func (s *stubService) RequestWithdrawal(ctx context.Context, vendorID, amount int64, method, accountRef string) (*model.Withdrawal, error) {
	s.vendorID, s.withdrawAmount = vendorID, amount
	return s.withdrawResp, s.withdrawErr
}

func (s *stubService) Withdrawals(ctx context.Context, vendorID int64) ([]model.Withdrawal, error) {
	return s.withdrawalsResp, s.withdrawalsErr
}

func (s *stubService) ProcessWithdrawal(ctx context.Context, id int64, action string) (*model.Withdrawal, error) {
	s.processAction = action
	return s.processResp, s.processErr
}

func (s *stubService) AutoComplete(ctx context.Context, days int) (int, error) {
	s.autoDays = days
	return s.autoResp, s.autoErr
}

func (s *stubService) CompleteOrder(ctx context.Context, orderID int64, method, reference string) (*model.Order, error) {
	s.orderID, s.completeMethod = orderID, method
	return s.orderResp, s.orderErr
}

func (s *stubService) ConfirmDelivery(ctx context.Context, orderID, buyerID int64) (*model.Order, error) {
	s.orderID, s.buyerID = orderID, buyerID
	return s.orderResp, s.orderErr
}

func (s *stubService) CancelOrder(ctx context.Context, orderID, buyerID int64) (*model.Order, error) {
	s.orderID, s.buyerID = orderID, buyerID
	return s.orderResp, s.orderErr
}

func (s *stubService) UpdateFulfilment(ctx context.Context, vendorID, orderID int64, status model.OrderStatus) (*model.Order, error) {
	s.vendorID, s.orderID, s.fulfilmentWant = vendorID, orderID, status
	return s.orderResp, s.orderErr
}

func newTestRouter(t *testing.T, svc Service) http.Handler {
	t.Helper()

	logger := zap.NewNop()
	signature := middleware.NewSignatureMiddleware(testWebhookSecret, logger)

	return NewHandler(svc, logger, signature, metrics.New()).SetupRouter()
}

func do(t *testing.T, h http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func signed(body string) http.Header {
	return http.Header{
		gateway.SignatureHeader: []string{gateway.Sign(testWebhookSecret, []byte(body))},
		"Content-Type":          []string{"application/json"},
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid input", err: fmt.Errorf("%w: quantity", model.ErrInvalidInput), want: http.StatusBadRequest},
		{name: "no valid items", err: model.ErrNoValidItems, want: http.StatusBadRequest},
		{name: "zero total", err: model.ErrZeroTotal, want: http.StatusBadRequest},
		{name: "insufficient balance", err: model.ErrInsufficientBalance, want: http.StatusBadRequest},
		{name: "payment failed", err: model.ErrPaymentNotSuccessful, want: http.StatusBadRequest},
		{name: "invalid signature", err: gateway.ErrInvalidSignature, want: http.StatusUnauthorized},
		{name: "forbidden", err: model.ErrForbidden, want: http.StatusForbidden},
		{name: "order not found", err: model.ErrOrderNotFound, want: http.StatusNotFound},
		{name: "withdrawal not found", err: model.ErrWithdrawalNotFound, want: http.StatusNotFound},
		{name: "invalid transition", err: model.ErrInvalidTransition, want: http.StatusConflict},
		{name: "already processed", err: model.ErrAlreadyProcessed, want: http.StatusOK},
		{name: "gateway timeout", err: fmt.Errorf("verify: %w", gateway.ErrTimeout), want: http.StatusBadGateway},
		{name: "gateway error", err: &gateway.Error{Op: "initialize", StatusCode: http.StatusInternalServerError}, want: http.StatusBadGateway},
		{name: "unexpected", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestCheckout(t *testing.T) {
	t.Run("single session", func(t *testing.T) {
		svc := &stubService{checkoutResp: &service.CheckoutResult{
			Mode:          service.SplitSingle,
			ParentOrderID: int64Ptr(7),
			OrderIDs:      []int64{8, 9},
			TxRef:         "parent_7_abc",
			CheckoutURL:   "https://checkout.example/pay",
			Total:         27500,
			Currency:      "ETB",
		}}
		h := newTestRouter(t, svc)

		body := `{"buyer_id":5,"items":[{"product_id":11,"quantity":2,"color":"red"}],"split_mode":" Single ","email":"b@example.com"}`
		rec := do(t, h, http.MethodPost, "/checkout", body, nil)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		out := decode(t, rec)
		assert.Equal(t, "single", out["mode"])
		assert.Equal(t, 275.0, out["total_amount"])
		assert.Equal(t, 7.0, out["parent_order_id"])
		assert.Equal(t, "parent_7_abc", out["tx_ref"])

		assert.Equal(t, int64(5), svc.checkoutReq.BuyerID)
		assert.Equal(t, service.SplitSingle, svc.checkoutReq.SplitMode)
		assert.Equal(t, []model.CartLine{{ProductID: 11, Quantity: 2, Color: "red"}}, svc.checkoutReq.Items)
		assert.Equal(t, "b@example.com", svc.checkoutReq.Contact.Email)
	})

	t.Run("per vendor sessions", func(t *testing.T) {
		svc := &stubService{checkoutResp: &service.CheckoutResult{
			Mode:     service.SplitPerVendor,
			Currency: "ETB",
			Sessions: []service.Session{
				{OrderID: 1, TxRef: "order_1_a", CheckoutURL: "u1", Amount: 20000},
				{OrderID: 2, TxRef: "order_2_b", CheckoutURL: "u2", Amount: 5050},
			},
		}}
		h := newTestRouter(t, svc)

		rec := do(t, h, http.MethodPost, "/api/payments/checkout", `{"buyer_id":5,"items":[],"split_mode":"per_vendor"}`, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		out := decode(t, rec)
		assert.Equal(t, "per_vendor", out["mode"])
		sessions, ok := out["sessions"].([]any)
		require.True(t, ok)
		require.Len(t, sessions, 2)
		assert.Equal(t, 50.5, sessions[1].(map[string]any)["amount"])
	})

	t.Run("malformed body", func(t *testing.T) {
		svc := &stubService{}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/checkout", `{`, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode(t, rec)["error"], "invalid input")
	})

	t.Run("gateway failure", func(t *testing.T) {
		svc := &stubService{checkoutErr: &gateway.Error{Op: "initialize", StatusCode: http.StatusUnauthorized, Body: "bad key"}}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/checkout", `{"buyer_id":5}`, nil)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("internal error hides details", func(t *testing.T) {
		svc := &stubService{checkoutErr: errors.New("pq: connection refused")}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/checkout", `{"buyer_id":5}`, nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, http.StatusText(http.StatusInternalServerError), decode(t, rec)["error"])
	})
}

func TestPaymentCallback(t *testing.T) {
	const body = `{"tx_ref":"parent_7_abc","status":"success"}`

	t.Run("invalid signature never reaches service", func(t *testing.T) {
		svc := &stubService{}
		h := newTestRouter(t, svc)

		header := http.Header{gateway.SignatureHeader: []string{gateway.Sign("other", []byte(body))}}
		rec := do(t, h, http.MethodPost, "/payments/callback", body, header)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, svc.webhookCalls)
	})

	t.Run("applied", func(t *testing.T) {
		svc := &stubService{webhookResp: &service.ApplyResult{TxRef: "parent_7_abc", Paid: true, Updated: []int64{8, 9}}}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/payments/chapa/callback", body, signed(body))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		out := decode(t, rec)
		assert.Equal(t, true, out["ok"])
		assert.Equal(t, []any{8.0, 9.0}, out["updated"])
		assert.Equal(t, []string{"parent_7_abc"}, svc.webhookCalls)
	})

	t.Run("already processed", func(t *testing.T) {
		svc := &stubService{webhookResp: &service.ApplyResult{TxRef: "parent_7_abc", Paid: true, AlreadyProcessed: true}}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/api/payments/callback", body, signed(body))

		require.Equal(t, http.StatusOK, rec.Code)
		out := decode(t, rec)
		assert.Equal(t, true, out["already_processed"])
		assert.Equal(t, []any{}, out["updated"])
	})

	t.Run("form body with reference", func(t *testing.T) {
		form := "reference=order_3_x&status=success"
		svc := &stubService{webhookResp: &service.ApplyResult{TxRef: "order_3_x"}}
		header := signed(form)
		header.Set("Content-Type", "application/x-www-form-urlencoded")

		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/payments/callback", form, header)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"order_3_x"}, svc.webhookCalls)
	})

	errorCases := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "missing tx_ref", body: `{"status":"success"}`, want: http.StatusBadRequest},
		{name: "unknown tx_ref", body: body, err: model.ErrOrderNotFound, want: http.StatusNotFound},
		{name: "payment failed", body: body, err: model.ErrPaymentNotSuccessful, want: http.StatusBadRequest},
		{name: "gateway unavailable", body: body, err: gateway.ErrTimeout, want: http.StatusBadGateway},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{webhookErr: tt.err}
			rec := do(t, newTestRouter(t, svc), http.MethodPost, "/payments/callback", tt.body, signed(tt.body))

			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestVerifyPayment(t *testing.T) {
	t.Run("renders amount", func(t *testing.T) {
		svc := &stubService{verifyResp: &service.VerifyResult{
			OK:       true,
			TxRef:    "order_3_x",
			OrderID:  int64Ptr(3),
			Amount:   int64Ptr(12345),
			Currency: "ETB",
			Status:   "SUCCESS",
		}}
		rec := do(t, newTestRouter(t, svc), http.MethodGet, "/payments/verify?tx_ref=order_3_x", "", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		out := decode(t, rec)
		assert.Equal(t, 123.45, out["amount"])
		assert.Equal(t, "success", out["status"])
		assert.Nil(t, out["parent_order_id"])
	})

	t.Run("missing amount is null", func(t *testing.T) {
		svc := &stubService{verifyResp: &service.VerifyResult{TxRef: "order_3_x", Status: "failed"}}
		rec := do(t, newTestRouter(t, svc), http.MethodGet, "/api/payments/verify?tx_ref=order_3_x", "", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		out := decode(t, rec)
		assert.Contains(t, out, "amount")
		assert.Nil(t, out["amount"])
		assert.Nil(t, out["currency"])
	})
}

func TestPaymentStatus(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &stubService{trailResp: []service.TrailEvent{
		{ID: "order-3", Event: "order", Status: "paid", CreatedAt: created},
	}}
	rec := do(t, newTestRouter(t, svc), http.MethodGet, "/payments/status?tx_ref=order_3_x", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []trailEventResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []trailEventResponse{{ID: "order-3", Event: "order", Status: "paid", CreatedAt: "2026-03-01T10:00:00Z"}}, out)
}

func TestReconcile(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		svc := &stubService{reconcileResp: &service.SweepResult{Checked: 10, Updated: []int64{1, 4}}}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/admin/payments/reconcile", "", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		out := decode(t, rec)
		assert.Equal(t, 10.0, out["checked"])
		assert.Equal(t, 2.0, out["updated"])
		assert.Equal(t, []any{1.0, 4.0}, out["orders"])
		assert.Equal(t, 24*time.Hour, svc.reconcileLookback)
		assert.Equal(t, 50, svc.reconcileLimit)
	})

	t.Run("query parameters", func(t *testing.T) {
		svc := &stubService{reconcileResp: &service.SweepResult{}}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/api/admin/payments/reconcile?hours=2&limit=5", "", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2*time.Hour, svc.reconcileLookback)
		assert.Equal(t, 5, svc.reconcileLimit)
	})

	t.Run("bad hours", func(t *testing.T) {
		svc := &stubService{}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/admin/payments/reconcile?hours=abc", "", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWallet(t *testing.T) {
	svc := &stubService{walletResp: model.Wallet{VendorID: 3, Balance: 18000, Pending: 4550}}
	rec := do(t, newTestRouter(t, svc), http.MethodGet, "/vendors/3/wallet", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"vendor_id":3,"balance":180,"pending":45.5}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, int64(3), svc.vendorID)
}

func TestWallet_InvalidID(t *testing.T) {
	rec := do(t, newTestRouter(t, &stubService{}), http.MethodGet, "/vendors/abc/wallet", "", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLedger(t *testing.T) {
	rate := decimal.RequireFromString("0.1")
	svc := &stubService{ledgerResp: []model.LedgerEntry{
		{
			ID:             2,
			Type:           model.EntryPendingCredit,
			Amount:         18000,
			OrderID:        int64Ptr(8),
			ParentOrderID:  int64Ptr(7),
			CommissionRate: &rate,
			Commission:     int64Ptr(2000),
			Description:    "Pending credit for order 8",
			CreatedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{ID: 1, Type: model.EntryDebit, Amount: 500, Description: "Withdrawal request"},
	}}
	rec := do(t, newTestRouter(t, svc), http.MethodGet, "/vendors/3/wallet/ledger?limit=20", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, svc.ledgerLimit)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "pending_credit", out[0]["type"])
	assert.Equal(t, 180.0, out[0]["amount"])
	assert.Equal(t, 0.1, out[0]["commission_rate"])
	assert.Equal(t, 20.0, out[0]["commission"])
	assert.Nil(t, out[1]["order_id"])
	assert.Nil(t, out[1]["commission_rate"])
}

func TestAuditWallet(t *testing.T) {
	svc := &stubService{auditResp: &service.WalletAudit{
		Wallet:     model.Wallet{VendorID: 3, Balance: 100, Pending: 50},
		Replayed:   ledger.Balance{Available: 100, Pending: 50},
		Entries:    4,
		Consistent: true,
	}}
	rec := do(t, newTestRouter(t, svc), http.MethodGet, "/api/admin/vendors/3/wallet/audit", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["consistent"])
	assert.Equal(t, 4.0, out["entries"])
}

func TestRequestWithdrawal(t *testing.T) {
	t.Run("converts amount to cents", func(t *testing.T) {
		svc := &stubService{withdrawResp: &model.Withdrawal{ID: 11, Status: model.WithdrawalPending}}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/vendors/wallet/withdrawals",
			`{"vendor_id":3,"amount":20.5,"method":"bank","account_ref":"ACC-1"}`, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"id":11,"status":"pending"}`, rec.Body.String())
		assert.Equal(t, int64(2050), svc.withdrawAmount)
		assert.Equal(t, int64(3), svc.vendorID)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		svc := &stubService{withdrawErr: model.ErrInsufficientBalance}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/vendors/wallet/withdrawals", `{"vendor_id":3,"amount":999}`, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "insufficient balance", decode(t, rec)["error"])
	})
}

func TestWithdrawals(t *testing.T) {
	svc := &stubService{withdrawalsResp: []model.Withdrawal{
		{ID: 1, VendorID: 3, Amount: 2050, Status: model.WithdrawalPaid, Method: "bank"},
	}}
	rec := do(t, newTestRouter(t, svc), http.MethodGet, "/vendors/3/wallet/withdrawals", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []withdrawalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, 20.5, out[0].Amount)
	assert.Equal(t, "paid", out[0].Status)
}

func TestProcessWithdrawal(t *testing.T) {
	tests := []struct {
		name     string
		resp     *model.Withdrawal
		err      error
		want     int
		wantBody string
	}{
		{
			name:     "paid",
			resp:     &model.Withdrawal{ID: 4, Status: model.WithdrawalPaid},
			want:     http.StatusOK,
			wantBody: `{"id":4,"status":"paid"}`,
		},
		{
			name:     "already processed returns current status",
			resp:     &model.Withdrawal{ID: 4, Status: model.WithdrawalRejected},
			err:      model.ErrAlreadyProcessed,
			want:     http.StatusOK,
			wantBody: `{"id":4,"status":"rejected","already_processed":true}`,
		},
		{name: "unknown withdrawal", err: model.ErrWithdrawalNotFound, want: http.StatusNotFound},
		{name: "invalid action", err: model.ErrInvalidAction, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{processResp: tt.resp, processErr: tt.err}
			rec := do(t, newTestRouter(t, svc), http.MethodPost, "/admin/wallet/withdrawals/4/process", `{"action":"paid"}`, nil)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "paid", svc.processAction)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestOrders(t *testing.T) {
	t.Run("auto-complete", func(t *testing.T) {
		svc := &stubService{autoResp: 3}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/orders/auto-complete?days=10", "", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true,"auto_completed":3}`, rec.Body.String())
		assert.Equal(t, 10, svc.autoDays)
	})

	t.Run("complete without body", func(t *testing.T) {
		svc := &stubService{orderResp: &model.Order{
			ID:               8,
			Status:           model.OrderStatusCompleted,
			PaymentStatus:    model.PaymentStatusPaid,
			PaymentMethod:    model.PaymentMethodGateway,
			PaymentReference: "order_8_x",
		}}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/orders/8/complete", "", nil)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		out := decode(t, rec)
		assert.Equal(t, "completed", out["status"])
		assert.Equal(t, "paid", out["payment_status"])
		assert.Equal(t, int64(8), svc.orderID)
		assert.Empty(t, svc.completeMethod)
	})

	t.Run("confirm delivery", func(t *testing.T) {
		svc := &stubService{orderResp: &model.Order{ID: 8, Status: model.OrderStatusCompleted}}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/api/orders/8/confirm-delivery", `{"buyer_id":5}`, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"id":8,"status":"completed"}`, rec.Body.String())
		assert.Equal(t, int64(5), svc.buyerID)
	})

	t.Run("confirm delivery by another buyer", func(t *testing.T) {
		svc := &stubService{orderErr: model.ErrForbidden}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/orders/8/confirm-delivery", `{"buyer_id":6}`, nil)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("cancel requires buyer", func(t *testing.T) {
		svc := &stubService{}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/orders/8/cancel", `{}`, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, svc.orderID)
	})

	t.Run("cancel paid order", func(t *testing.T) {
		svc := &stubService{orderErr: fmt.Errorf("cancel order 8: %w", model.ErrInvalidTransition)}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/orders/8/cancel", `{"buyer_id":5}`, nil)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("vendor fulfilment", func(t *testing.T) {
		svc := &stubService{orderResp: &model.Order{ID: 8, Status: model.OrderStatusShipped}}
		rec := do(t, newTestRouter(t, svc), http.MethodPost, "/vendors/3/orders/8/status", `{"status":"Shipped"}`, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(3), svc.vendorID)
		assert.Equal(t, int64(8), svc.orderID)
		assert.Equal(t, model.OrderStatusShipped, svc.fulfilmentWant)
	})
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestRouter(t, &stubService{}), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, newTestRouter(t, &stubService{pingErr: errors.New("down")}), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, &stubService{walletResp: model.Wallet{VendorID: 3}})

	do(t, h, http.MethodGet, "/vendors/3/wallet", "", nil)
	rec := do(t, h, http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/vendors/{id}/wallet",status_code="200"} 1`)
}

func TestUnknownRoute(t *testing.T) {
	rec := do(t, newTestRouter(t, &stubService{}), http.MethodGet, "/nope", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusText(http.StatusNotFound), decode(t, rec)["error"])
}
