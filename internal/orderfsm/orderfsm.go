// Package orderfsm описывает допустимые переходы жизненного цикла заказа.
package orderfsm

import (
	"fmt"

	"github.com/mmeshcher/marketplace-ledger/internal/model"
)

// State — абстрактное состояние заказа с точки зрения оплаты и завершения.
type State string

const (
	Pending   State = "pending"
	Paid      State = "paid"
	Failed    State = "failed"
	Completed State = "completed"
	Cancelled State = "cancelled"
)

// Effect — побочное действие в журнале, которое должно сопровождать переход.
type Effect int

const (
	EffectNone Effect = iota
	EffectCreditPending
	EffectRelease
)

// Оплаченный заказ нельзя отменить: в журнале нет проводки, возвращающей ожидающее зачисление.
var transitions = map[State]map[State]Effect{
	Pending: {
		Paid:      EffectCreditPending,
		Failed:    EffectNone,
		Cancelled: EffectNone,
	},
	Failed: {
		Paid:      EffectCreditPending,
		Cancelled: EffectNone,
	},
	Paid: {
		Completed: EffectRelease,
	},
}

// Of вычисляет абстрактное состояние по полям заказа.
func Of(o model.Order) State {
	switch {
	case o.Status == model.OrderStatusCancelled:
		return Cancelled
	case o.Status == model.OrderStatusCompleted:
		return Completed
	case o.PaymentStatus == model.PaymentStatusPaid || o.PaymentStatus == model.PaymentStatusRefunded:
		return Paid
	case o.PaymentStatus == model.PaymentStatusFailed:
		return Failed
	default:
		return Pending
	}
}

// Terminal сообщает, является ли состояние конечным.
func Terminal(s State) bool {
	return s == Completed || s == Cancelled
}

// Transition проверяет переход from -> to.
// Повторное применение уже достигнутого состояния допустимо и не требует действий (applied=false).
func Transition(from, to State) (effect Effect, applied bool, err error) {
	if from == to {
		return EffectNone, false, nil
	}
	next, ok := transitions[from]
	if !ok {
		return EffectNone, false, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, from, to)
	}
	effect, ok = next[to]
	if !ok {
		return EffectNone, false, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, from, to)
	}
	return effect, true, nil
}

var fulfilment = map[model.OrderStatus]model.OrderStatus{
	model.OrderStatusConfirmed: model.OrderStatusShipped,
	model.OrderStatusShipped:   model.OrderStatusDelivered,
}

// Fulfil проверяет переход исполнения заказа продавцом (confirmed -> shipped -> delivered).
func Fulfil(o model.Order, to model.OrderStatus) (bool, error) {
	if o.Status == to {
		return false, nil
	}
	if o.PaymentStatus != model.PaymentStatusPaid {
		return false, fmt.Errorf("%w: order %d is not paid", model.ErrInvalidTransition, o.ID)
	}
	if fulfilment[o.Status] != to {
		return false, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, o.Status, to)
	}
	return true, nil
}

// Apply переносит абстрактное состояние на поля заказа.
func Apply(o *model.Order, to State) {
	switch to {
	case Paid:
		o.PaymentStatus = model.PaymentStatusPaid
		if o.Status == model.OrderStatusPending {
			o.Status = model.OrderStatusConfirmed
		}
	case Failed:
		o.PaymentStatus = model.PaymentStatusFailed
		o.Status = model.OrderStatusPending
	case Completed:
		o.Status = model.OrderStatusCompleted
	case Cancelled:
		o.Status = model.OrderStatusCancelled
	}
}
