package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-ledger/internal/gateway"
	"github.com/mmeshcher/marketplace-ledger/internal/model"
	"github.com/mmeshcher/marketplace-ledger/internal/notify"
	"github.com/mmeshcher/marketplace-ledger/internal/orderfsm"
	"github.com/mmeshcher/marketplace-ledger/internal/repository"
)

// Источники проверки платежа.
const (
	SourceWebhook = "webhook"
	SourceVerify  = "verify"
	SourceSweep   = "sweep"
)

// ApplyResult описывает применение результата проверки к заказам одной транзакции шлюза.
type ApplyResult struct {
	TxRef    string
	Grouping *model.Grouping
	Orders   []model.Order
	Paid     bool
	// Updated — заказы, состояние которых изменилось при этом вызове.
	Updated []int64
	// AlreadyProcessed выставляется, если оплата уже была учтена ранее.
	AlreadyProcessed bool
}

// VerifyResult — ответ на явную проверку платежа.
type VerifyResult struct {
	OK            bool
	TxRef         string
	OrderID       *int64
	ParentOrderID *int64
	Amount        *int64
	Currency      string
	Status        string
}

// SweepResult — итог прохода сверки.
type SweepResult struct {
	Checked int
	Updated []int64
}

// TrailEvent — событие журнала состояния платежа.
type TrailEvent struct {
	ID        string
	Event     string
	Status    string
	CreatedAt time.Time
}

// HandleWebhook обрабатывает уведомление шлюза. Статус из уведомления не используется:
// результат всегда перепроверяется запросом к шлюзу.
func (s *Service) HandleWebhook(ctx context.Context, txRef string) (*ApplyResult, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return nil, fmt.Errorf("%w: tx_ref is required", model.ErrInvalidInput)
	}

	group, orders, err := s.lookup(ctx, txRef)
	if err != nil {
		return nil, err
	}
	if alreadyPaid(group, orders) {
		s.record(SourceWebhook, "already_processed")
		return &ApplyResult{TxRef: txRef, Grouping: group, Orders: orders, Paid: true, AlreadyProcessed: true}, nil
	}

	v, err := s.gateway.Verify(ctx, txRef)
	if err != nil {
		s.record(SourceWebhook, "error")
		return nil, fmt.Errorf("verify %s: %w", txRef, err)
	}

	res, err := s.applyVerification(ctx, txRef, v, SourceWebhook)
	if err != nil {
		return nil, err
	}
	if !res.Paid && !res.AlreadyProcessed {
		return res, fmt.Errorf("%w: tx_ref %s", model.ErrPaymentNotSuccessful, txRef)
	}
	return res, nil
}

// VerifyPayment проверяет транзакцию в шлюзе и применяет результат к заказам.
func (s *Service) VerifyPayment(ctx context.Context, txRef string) (*VerifyResult, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return nil, fmt.Errorf("%w: tx_ref is required", model.ErrInvalidInput)
	}

	if _, _, err := s.lookup(ctx, txRef); err != nil {
		return nil, err
	}

	v, err := s.gateway.Verify(ctx, txRef)
	if err != nil {
		s.record(SourceVerify, "error")
		return nil, fmt.Errorf("verify %s: %w", txRef, err)
	}

	res, err := s.applyVerification(ctx, txRef, v, SourceVerify)
	if err != nil {
		return nil, err
	}

	out := &VerifyResult{
		OK:       v.Paid() || res.AlreadyProcessed,
		TxRef:    txRef,
		Amount:   v.Amount,
		Currency: v.Currency,
		Status:   v.Status,
	}
	if res.Grouping != nil {
		out.ParentOrderID = &res.Grouping.ID
	}
	for _, o := range res.Orders {
		if o.PaymentReference == txRef {
			out.OrderID = &o.ID
			break
		}
	}
	return out, nil
}

// PaymentStatus собирает краткий журнал состояния платежа по ссылке на транзакцию.
// Ошибка проверки в шлюзе не прерывает построение журнала.
func (s *Service) PaymentStatus(ctx context.Context, txRef string) ([]TrailEvent, error) {
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return nil, fmt.Errorf("%w: tx_ref is required", model.ErrInvalidInput)
	}

	group, orders, err := s.lookup(ctx, txRef)
	if err != nil {
		return nil, err
	}

	var trail []TrailEvent
	if group != nil {
		trail = append(trail, TrailEvent{
			ID:        fmt.Sprintf("parent-%d", group.ID),
			Event:     "parent_created",
			Status:    string(group.Status),
			CreatedAt: group.CreatedAt,
		})
	}
	for _, o := range orders {
		trail = append(trail, TrailEvent{
			ID:        fmt.Sprintf("created-%d", o.ID),
			Event:     "order_created",
			Status:    string(o.Status),
			CreatedAt: o.CreatedAt,
		})
	}

	status := "unknown"
	if v, err := s.gateway.Verify(ctx, txRef); err != nil {
		s.logger.Warn("verify for status trail", zap.String("tx_ref", txRef), zap.Error(err))
	} else {
		status = v.Status
	}
	trail = append(trail, TrailEvent{
		ID:        "gateway-" + txRef,
		Event:     "gateway_verify",
		Status:    status,
		CreatedAt: s.now().UTC(),
	})

	for _, o := range orders {
		trail = append(trail, TrailEvent{
			ID:        fmt.Sprintf("order-%d", o.ID),
			Event:     "order_update",
			Status:    fmt.Sprintf("%s:%s", o.Status, o.PaymentStatus),
			CreatedAt: o.UpdatedAt,
		})
	}
	return trail, nil
}

// Reconcile перепроверяет неоплаченные заказы шлюза, созданные за последние lookback.
// Применяются только подтверждённые оплаты; ошибки шлюза оставляют заказ для следующего прохода.
func (s *Service) Reconcile(ctx context.Context, lookback time.Duration, limit int) (*SweepResult, error) {
	if lookback <= 0 {
		lookback = s.opts.ReconcileLookback
	}
	if limit <= 0 {
		limit = s.opts.ReconcileLimit
	}
	limit = min(limit, maxSweepLimit)

	candidates, err := s.repo.ReconcileCandidates(ctx, s.now().Add(-lookback), limit)
	if err != nil {
		return nil, fmt.Errorf("load reconcile candidates: %w", err)
	}

	res := &SweepResult{Checked: len(candidates), Updated: []int64{}}
	seen := make(map[string]bool, len(candidates))

	for _, o := range candidates {
		txRef := strings.TrimSpace(o.PaymentReference)
		if txRef == "" || seen[txRef] {
			continue
		}
		seen[txRef] = true

		if err := s.limiter.Wait(ctx); err != nil {
			return res, err
		}

		v, err := s.gateway.Verify(ctx, txRef)
		if err != nil {
			outcome := "error"
			if errors.Is(err, gateway.ErrTimeout) {
				outcome = "indeterminate"
			}
			s.record(SourceSweep, outcome)
			s.logger.Info("payment verification is indeterminate, will retry on next sweep",
				zap.String("tx_ref", txRef),
				zap.Error(err),
			)
			continue
		}
		if !v.Paid() {
			s.record(SourceSweep, "not_paid")
			continue
		}

		applied, err := s.applyVerification(ctx, txRef, v, SourceSweep)
		if err != nil {
			s.logger.Error("apply verified payment", zap.String("tx_ref", txRef), zap.Error(err))
			continue
		}
		res.Updated = append(res.Updated, applied.Updated...)
	}

	return res, nil
}

func (s *Service) lookup(ctx context.Context, txRef string) (*model.Grouping, []model.Order, error) {
	group, orders, err := s.repo.OrdersByTxRef(ctx, txRef)
	if err != nil {
		return nil, nil, fmt.Errorf("find orders by tx_ref: %w", err)
	}
	if group == nil && len(orders) == 0 {
		return nil, nil, fmt.Errorf("%w: tx_ref %s", model.ErrOrderNotFound, txRef)
	}
	return group, orders, nil
}

func alreadyPaid(group *model.Grouping, orders []model.Order) bool {
	if group != nil && (group.Status == model.GroupStatusPaid || group.Status == model.GroupStatusCompleted) {
		return true
	}
	if len(orders) == 0 {
		return false
	}
	for _, o := range orders {
		if s := orderfsm.Of(o); s != orderfsm.Paid && s != orderfsm.Completed {
			return false
		}
	}
	return true
}

// applyVerification применяет результат проверки ко всем заказам транзакции в одной транзакции БД.
// Заказы блокируются в порядке id, кошельки затрагиваются в порядке возрастания id продавца.
func (s *Service) applyVerification(ctx context.Context, txRef string, v gateway.Verification, source string) (*ApplyResult, error) {
	var res *ApplyResult

	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r := &ApplyResult{TxRef: txRef, Paid: v.Paid()}

		group, err := tx.LockGroupingByTxRef(ctx, txRef)
		if err != nil {
			return err
		}
		var groupID *int64
		if group != nil {
			groupID = &group.ID
		}

		orders, err := tx.LockOrdersByTxRef(ctx, txRef, groupID)
		if err != nil {
			return err
		}
		if group == nil && len(orders) == 0 {
			return fmt.Errorf("%w: tx_ref %s", model.ErrOrderNotFound, txRef)
		}

		// отказ по уже оплаченной транзакции ничего не меняет
		settled := !r.Paid && alreadyPaid(group, orders)

		slices.SortStableFunc(orders, func(a, b model.Order) int {
			return cmp.Compare(a.VendorID, b.VendorID)
		})

		for i := range orders {
			var changed bool
			if r.Paid {
				changed, err = s.markPaid(ctx, tx, &orders[i])
			} else {
				changed, err = s.markFailed(ctx, tx, &orders[i])
			}
			if err != nil {
				return err
			}
			if changed {
				r.Updated = append(r.Updated, orders[i].ID)
			}
		}

		// группа только повышается до paid; отказ её не понижает
		if group != nil && r.Paid && group.Status == model.GroupStatusPending {
			if err := tx.UpdateGroupingStatus(ctx, group.ID, model.GroupStatusPaid); err != nil {
				return err
			}
			group.Status = model.GroupStatusPaid
		}

		slices.SortFunc(orders, func(a, b model.Order) int {
			return cmp.Compare(a.ID, b.ID)
		})
		slices.Sort(r.Updated)

		r.Grouping = group
		r.Orders = orders
		r.AlreadyProcessed = (r.Paid && len(r.Updated) == 0) || settled
		res = r
		return nil
	})
	if err != nil {
		s.record(source, "error")
		return nil, err
	}

	switch {
	case res.AlreadyProcessed:
		s.record(source, "already_processed")
	case res.Paid:
		s.record(source, "paid")
		s.notifyPaid(res)
	default:
		s.record(source, "failed")
	}

	s.logger.Info("payment verification applied",
		zap.String("tx_ref", txRef),
		zap.String("source", source),
		zap.Bool("paid", res.Paid),
		zap.Int64s("updated", res.Updated),
	)
	return res, nil
}

// markPaid переводит заблокированный заказ в оплаченные и зачисляет ожидающие средства продавцу.
func (s *Service) markPaid(ctx context.Context, tx repository.Tx, o *model.Order) (bool, error) {
	from := orderfsm.Of(*o)
	if from == orderfsm.Cancelled {
		s.logger.Warn("verified payment for cancelled order", zap.Int64("order_id", o.ID))
		return false, nil
	}
	if from == orderfsm.Completed {
		return false, nil
	}

	effect, applied, err := orderfsm.Transition(from, orderfsm.Paid)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	if effect == orderfsm.EffectCreditPending {
		lines, err := tx.OrderLines(ctx, o.ID)
		if err != nil {
			return false, err
		}
		if _, err := s.ledger.CreditPending(ctx, tx, *o, lines); err != nil {
			return false, fmt.Errorf("credit pending for order %d: %w", o.ID, err)
		}
	}

	orderfsm.Apply(o, orderfsm.Paid)
	o.ReceiptURL = fmt.Sprintf("/orders/%d/invoice", o.ID)

	if s.opts.SettleOnPayment {
		if _, err := s.complete(ctx, tx, o); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := tx.UpdateOrder(ctx, *o); err != nil {
		return false, err
	}
	return true, nil
}

// markFailed отмечает неуспешную оплату. Уже оплаченные и завершённые заказы не меняются.
func (s *Service) markFailed(ctx context.Context, tx repository.Tx, o *model.Order) (bool, error) {
	from := orderfsm.Of(*o)
	if from != orderfsm.Pending {
		return false, nil
	}

	if _, _, err := orderfsm.Transition(from, orderfsm.Failed); err != nil {
		return false, err
	}
	orderfsm.Apply(o, orderfsm.Failed)
	if err := tx.UpdateOrder(ctx, *o); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) notifyPaid(res *ApplyResult) {
	for _, o := range res.Orders {
		if !slices.Contains(res.Updated, o.ID) {
			continue
		}
		s.notify(notify.Message{
			UserID:  o.VendorID,
			Subject: "New Order Paid",
			Body:    fmt.Sprintf("Order #%d has been paid. Please fulfill.", o.ID),
		})
		s.notify(notify.Message{
			UserID:  o.VendorID,
			Subject: fmt.Sprintf("Invoice for Order #%d", o.ID),
			Body:    fmt.Sprintf("Your order has been paid. Download the invoice: %s", o.ReceiptURL),
		})
	}

	if s.opts.AdminEmail != "" && len(res.Updated) > 0 {
		s.notify(notify.Message{
			To:      s.opts.AdminEmail,
			Subject: "New Paid Order (Invoice)",
			Body:    fmt.Sprintf("Paid order(s) under tx_ref %s. Example invoice: /orders/%d/invoice", res.TxRef, res.Updated[0]),
		})
	}
}
