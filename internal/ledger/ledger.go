// Package ledger ведёт кошельки продавцов через неизменяемый журнал проводок с удержанием комиссии.
//
// Все операции выполняются внутри транзакции вызывающей стороны: строка кошелька
// блокируется, проверяется идемпотентность, затем сохраняются кошелёк и проводка.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/marketplace-ledger/internal/model"
)

// ErrDuplicateEntry возвращается хранилищем при нарушении уникальности проводки по заказу.
var ErrDuplicateEntry = errors.New("duplicate ledger entry")

// Tx описывает операции хранилища, доступные журналу внутри транзакции.
type Tx interface {
	// LockWallet блокирует строку кошелька продавца, создавая её при отсутствии.
	LockWallet(ctx context.Context, vendorID int64) (model.Wallet, error)
	SaveWallet(ctx context.Context, w model.Wallet) error
	// FindOrderEntry возвращает проводку заданного типа по заказу или nil.
	FindOrderEntry(ctx context.Context, orderID int64, typ model.EntryType) (*model.LedgerEntry, error)
	AppendEntry(ctx context.Context, e *model.LedgerEntry) error
}

// Recorder получает уведомление о каждой записанной проводке.
type Recorder interface {
	LedgerEntry(typ model.EntryType, amount int64)
}

// Result описывает итог операции журнала.
type Result struct {
	Entry   *model.LedgerEntry
	Applied bool
}

// Ledger выполняет операции над кошельками продавцов.
type Ledger struct {
	rate     decimal.Decimal
	recorder Recorder
}

// New создаёт журнал с указанной ставкой комиссии (доля, например 0.10).
func New(rate decimal.Decimal, recorder Recorder) (*Ledger, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: commission rate %s", model.ErrInvalidInput, rate)
	}
	return &Ledger{rate: rate, recorder: recorder}, nil
}

// Rate возвращает текущую ставку комиссии.
func (l *Ledger) Rate() decimal.Decimal {
	return l.rate
}

// Split делит валовую сумму на комиссию и чистую сумму продавца.
// Комиссия округляется до копейки половиной от нуля.
func Split(gross int64, rate decimal.Decimal) (commission, net int64) {
	c := decimal.NewFromInt(gross).Mul(rate).Round(0).IntPart()
	return c, gross - c
}

// CreditPending зачисляет чистую сумму заказа в ожидающие средства продавца.
func (l *Ledger) CreditPending(ctx context.Context, tx Tx, order model.Order, lines []model.OrderLine) (Result, error) {
	gross := order.Total
	if len(lines) > 0 {
		gross = 0
		for _, line := range lines {
			gross += line.Total()
		}
	}
	if gross <= 0 {
		return Result{}, nil
	}

	w, err := tx.LockWallet(ctx, order.VendorID)
	if err != nil {
		return Result{}, fmt.Errorf("lock wallet %d: %w", order.VendorID, err)
	}

	existing, err := tx.FindOrderEntry(ctx, order.ID, model.EntryPendingCredit)
	if err != nil {
		return Result{}, fmt.Errorf("find pending credit: %w", err)
	}
	if existing != nil {
		return Result{Entry: existing}, nil
	}

	commission, net := Split(gross, l.rate)
	rate := l.rate

	w.Pending += net
	entry := &model.LedgerEntry{
		VendorID:       order.VendorID,
		OrderID:        &order.ID,
		ParentOrderID:  order.ParentID,
		Type:           model.EntryPendingCredit,
		Amount:         net,
		CommissionRate: &rate,
		Commission:     &commission,
		Description:    fmt.Sprintf("Pending net after %s%% commission", rate.Shift(2).String()),
	}

	return l.post(ctx, tx, w, entry)
}

// ReleaseToBalance переводит ранее зачисленную чистую сумму заказа в доступный баланс.
// Используется сумма из проводки pending_credit, пересчёт по текущей ставке не выполняется.
func (l *Ledger) ReleaseToBalance(ctx context.Context, tx Tx, order model.Order) (Result, error) {
	w, err := tx.LockWallet(ctx, order.VendorID)
	if err != nil {
		return Result{}, fmt.Errorf("lock wallet %d: %w", order.VendorID, err)
	}

	released, err := tx.FindOrderEntry(ctx, order.ID, model.EntryCredit)
	if err != nil {
		return Result{}, fmt.Errorf("find credit: %w", err)
	}
	if released != nil {
		return Result{Entry: released}, nil
	}

	pending, err := tx.FindOrderEntry(ctx, order.ID, model.EntryPendingCredit)
	if err != nil {
		return Result{}, fmt.Errorf("find pending credit: %w", err)
	}
	if pending == nil {
		return Result{}, nil
	}

	net := pending.Amount
	w.Pending = max(0, w.Pending-net)
	w.Balance += net

	entry := &model.LedgerEntry{
		VendorID:       order.VendorID,
		OrderID:        &order.ID,
		ParentOrderID:  order.ParentID,
		Type:           model.EntryCredit,
		Amount:         net,
		CommissionRate: pending.CommissionRate,
		Commission:     pending.Commission,
		Description:    "Release to withdrawable balance on completion",
	}

	return l.post(ctx, tx, w, entry)
}

// HoldForWithdrawal резервирует сумму вывода из доступного баланса.
func (l *Ledger) HoldForWithdrawal(ctx context.Context, tx Tx, vendorID, amount int64) (Result, error) {
	if amount <= 0 {
		return Result{}, fmt.Errorf("%w: amount must be positive", model.ErrInvalidInput)
	}

	w, err := tx.LockWallet(ctx, vendorID)
	if err != nil {
		return Result{}, fmt.Errorf("lock wallet %d: %w", vendorID, err)
	}
	if w.Balance < amount {
		return Result{}, model.ErrInsufficientBalance
	}

	w.Balance -= amount
	return l.post(ctx, tx, w, &model.LedgerEntry{
		VendorID:    vendorID,
		Type:        model.EntryDebit,
		Amount:      amount,
		Description: "Withdrawal request hold",
	})
}

// ReturnHeld возвращает зарезервированную сумму отклонённого вывода.
func (l *Ledger) ReturnHeld(ctx context.Context, tx Tx, vendorID, amount int64) (Result, error) {
	w, err := tx.LockWallet(ctx, vendorID)
	if err != nil {
		return Result{}, fmt.Errorf("lock wallet %d: %w", vendorID, err)
	}

	w.Balance += amount
	return l.post(ctx, tx, w, &model.LedgerEntry{
		VendorID:    vendorID,
		Type:        model.EntryCredit,
		Amount:      amount,
		Description: "Withdrawal rejected, funds returned",
	})
}

// RecordPayout фиксирует выплату; баланс не меняется, сумма уже удержана.
func (l *Ledger) RecordPayout(ctx context.Context, tx Tx, vendorID, amount int64) (Result, error) {
	w, err := tx.LockWallet(ctx, vendorID)
	if err != nil {
		return Result{}, fmt.Errorf("lock wallet %d: %w", vendorID, err)
	}

	return l.post(ctx, tx, w, &model.LedgerEntry{
		VendorID:    vendorID,
		Type:        model.EntryPayout,
		Amount:      amount,
		Description: "Withdrawal payout processed",
	})
}

func (l *Ledger) post(ctx context.Context, tx Tx, w model.Wallet, entry *model.LedgerEntry) (Result, error) {
	if err := tx.AppendEntry(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateEntry) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("append %s entry: %w", entry.Type, err)
	}
	if err := tx.SaveWallet(ctx, w); err != nil {
		return Result{}, fmt.Errorf("save wallet %d: %w", w.VendorID, err)
	}
	if l.recorder != nil {
		l.recorder.LedgerEntry(entry.Type, entry.Amount)
	}
	return Result{Entry: entry, Applied: true}, nil
}
