package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-ledger/internal/model"
	"github.com/mmeshcher/marketplace-ledger/internal/orderfsm"
	"github.com/mmeshcher/marketplace-ledger/internal/repository"
)

// CompleteOrder завершает заказ после оплаты. Заказ шлюза, ещё не отмеченный оплаченным,
// сначала проверяется в шлюзе; для остальных способов оплаты вызов считается подтверждением оператора.
func (s *Service) CompleteOrder(ctx context.Context, orderID int64, method, reference string) (*model.Order, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	reference = strings.TrimSpace(reference)

	current, err := s.repo.OrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	effMethod := firstNonEmpty(method, current.PaymentMethod)
	effRef := firstNonEmpty(reference, current.PaymentReference)
	if orderfsm.Of(*current) == orderfsm.Pending || orderfsm.Of(*current) == orderfsm.Failed {
		if effMethod == model.PaymentMethodGateway {
			if effRef == "" {
				return nil, fmt.Errorf("%w: payment_reference is required", model.ErrInvalidInput)
			}
			v, err := s.gateway.Verify(ctx, effRef)
			if err != nil {
				return nil, fmt.Errorf("verify %s: %w", effRef, err)
			}
			if !v.Paid() {
				return nil, fmt.Errorf("%w: tx_ref %s", model.ErrPaymentNotSuccessful, effRef)
			}
		}
	}

	var res model.Order
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if method != "" {
			o.PaymentMethod = method
		}
		if reference != "" {
			o.PaymentReference = reference
		}

		// зачисление в ожидание выполняет complete перед переносом в баланс
		if from := orderfsm.Of(o); from == orderfsm.Pending || from == orderfsm.Failed {
			if _, _, err := orderfsm.Transition(from, orderfsm.Paid); err != nil {
				return err
			}
			orderfsm.Apply(&o, orderfsm.Paid)
		}

		changed, err := s.complete(ctx, tx, &o)
		if err != nil {
			return err
		}
		if !changed {
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
		}
		res = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ConfirmDelivery завершает оплаченный заказ по подтверждению покупателя.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID, buyerID int64) (*model.Order, error) {
	if buyerID <= 0 {
		return nil, fmt.Errorf("%w: buyer_id is required", model.ErrInvalidInput)
	}

	var res model.Order
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != buyerID {
			return fmt.Errorf("%w: order %d belongs to another buyer", model.ErrForbidden, o.ID)
		}

		from := orderfsm.Of(o)
		if from != orderfsm.Paid && from != orderfsm.Completed {
			return fmt.Errorf("%w: order %d is not paid", model.ErrInvalidTransition, o.ID)
		}

		if _, err := s.complete(ctx, tx, &o); err != nil {
			return err
		}
		res = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelOrder отменяет неоплаченный заказ покупателя. Оплаченный заказ отменить нельзя.
func (s *Service) CancelOrder(ctx context.Context, orderID, buyerID int64) (*model.Order, error) {
	if buyerID <= 0 {
		return nil, fmt.Errorf("%w: buyer_id is required", model.ErrInvalidInput)
	}

	var res model.Order
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != buyerID {
			return fmt.Errorf("%w: order %d belongs to another buyer", model.ErrForbidden, o.ID)
		}

		_, applied, err := orderfsm.Transition(orderfsm.Of(o), orderfsm.Cancelled)
		if err != nil {
			return err
		}
		if applied {
			orderfsm.Apply(&o, orderfsm.Cancelled)
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
		}
		res = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// UpdateFulfilment переводит заказ продавца в shipped или delivered.
func (s *Service) UpdateFulfilment(ctx context.Context, vendorID, orderID int64, status model.OrderStatus) (*model.Order, error) {
	if status != model.OrderStatusShipped && status != model.OrderStatusDelivered {
		return nil, fmt.Errorf("%w: unsupported status %q", model.ErrInvalidInput, status)
	}

	var res model.Order
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.VendorID != vendorID {
			return fmt.Errorf("%w: order %d belongs to another vendor", model.ErrForbidden, o.ID)
		}

		applied, err := orderfsm.Fulfil(o, status)
		if err != nil {
			return err
		}
		if applied {
			o.Status = status
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
		}
		res = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// AutoComplete завершает оплаченные заказы в исполнении, не менявшиеся дольше days дней
// и без открытых запросов на возврат. Каждый заказ обрабатывается в своей транзакции.
func (s *Service) AutoComplete(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		days = s.opts.AutoCompleteDays
	}
	days = max(days, s.opts.RefundWindowDays)
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	ids, err := s.repo.AutoCompleteCandidates(ctx, cutoff, autoCompleteBatch)
	if err != nil {
		return 0, fmt.Errorf("load auto-complete candidates: %w", err)
	}

	completed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return completed, err
		}

		var changed bool
		err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			o, err := tx.LockOrder(ctx, id)
			if err != nil {
				return err
			}
			if !autoCompletable(o, cutoff) {
				changed = false
				return nil
			}
			changed, err = s.complete(ctx, tx, &o)
			return err
		})
		if err != nil {
			s.logger.Error("auto-complete order", zap.Int64("order_id", id), zap.Error(err))
			continue
		}
		if changed {
			completed++
		}
	}

	if completed > 0 {
		s.logger.Info("orders auto-completed", zap.Int("count", completed), zap.Int("days", days))
	}
	return completed, nil
}

func autoCompletable(o model.Order, cutoff time.Time) bool {
	switch o.Status {
	case model.OrderStatusConfirmed, model.OrderStatusShipped, model.OrderStatusDelivered:
	default:
		return false
	}
	return orderfsm.Of(o) == orderfsm.Paid && !o.UpdatedAt.After(cutoff)
}

// complete переводит заблокированный оплаченный заказ в completed и переносит его чистую сумму
// в доступный баланс продавца. Если зачисления в ожидание не было, оно выполняется перед переносом.
func (s *Service) complete(ctx context.Context, tx repository.Tx, o *model.Order) (bool, error) {
	effect, applied, err := orderfsm.Transition(orderfsm.Of(*o), orderfsm.Completed)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	if effect == orderfsm.EffectRelease {
		lines, err := tx.OrderLines(ctx, o.ID)
		if err != nil {
			return false, err
		}
		if _, err := s.ledger.CreditPending(ctx, tx, *o, lines); err != nil {
			return false, fmt.Errorf("credit pending for order %d: %w", o.ID, err)
		}
		if _, err := s.ledger.ReleaseToBalance(ctx, tx, *o); err != nil {
			return false, fmt.Errorf("release order %d: %w", o.ID, err)
		}
	}

	orderfsm.Apply(o, orderfsm.Completed)
	if err := tx.UpdateOrder(ctx, *o); err != nil {
		return false, err
	}
	return true, nil
}
