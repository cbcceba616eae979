package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-ledger/internal/model"
	"github.com/mmeshcher/marketplace-ledger/internal/notify"
	"github.com/mmeshcher/marketplace-ledger/internal/repository"
)

// Действия оператора над заявкой на вывод.
const (
	ActionPaid     = "paid"
	ActionRejected = "rejected"
)

const defaultWithdrawalMethod = "bank"

// RequestWithdrawal создаёт заявку на вывод и удерживает сумму из доступного баланса продавца.
func (s *Service) RequestWithdrawal(ctx context.Context, vendorID, amount int64, method, accountRef string) (*model.Withdrawal, error) {
	if vendorID <= 0 {
		return nil, fmt.Errorf("%w: vendor_id is required", model.ErrInvalidInput)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", model.ErrInvalidInput)
	}
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		method = defaultWithdrawalMethod
	}

	var res model.Withdrawal
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := s.ledger.HoldForWithdrawal(ctx, tx, vendorID, amount); err != nil {
			return err
		}

		w := model.Withdrawal{
			VendorID:   vendorID,
			Amount:     amount,
			Status:     model.WithdrawalPending,
			Method:     method,
			AccountRef: strings.TrimSpace(accountRef),
		}
		if err := tx.CreateWithdrawal(ctx, &w); err != nil {
			return err
		}
		res = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal requested",
		zap.Int64("id", res.ID),
		zap.Int64("vendor_id", vendorID),
		zap.Int64("amount", amount),
	)
	if s.opts.AdminEmail != "" {
		s.notify(notify.Message{
			To:      s.opts.AdminEmail,
			Subject: "New withdrawal request",
			Body:    fmt.Sprintf("Vendor #%d requested a withdrawal of %s via %s.", vendorID, model.FormatAmount(amount), method),
		})
	}
	return &res, nil
}

// ProcessWithdrawal выполняет действие оператора: paid фиксирует выплату, rejected возвращает удержание.
// Заявка не в статусе pending возвращается вместе с ErrAlreadyProcessed.
func (s *Service) ProcessWithdrawal(ctx context.Context, id int64, action string) (*model.Withdrawal, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	if action != ActionPaid && action != ActionRejected {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidAction, action)
	}

	var res model.Withdrawal
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		w, err := tx.LockWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		res = w
		if w.Status != model.WithdrawalPending {
			return model.ErrAlreadyProcessed
		}

		next := model.WithdrawalPaid
		if action == ActionRejected {
			next = model.WithdrawalRejected
			_, err = s.ledger.ReturnHeld(ctx, tx, w.VendorID, w.Amount)
		} else {
			_, err = s.ledger.RecordPayout(ctx, tx, w.VendorID, w.Amount)
		}
		if err != nil {
			return err
		}

		if err := tx.UpdateWithdrawalStatus(ctx, w.ID, next); err != nil {
			return err
		}
		res.Status = next
		return nil
	})
	if errors.Is(err, model.ErrAlreadyProcessed) {
		return &res, err
	}
	if err != nil {
		return nil, err
	}

	s.notify(notify.Message{
		UserID:  res.VendorID,
		Subject: "Withdrawal " + string(res.Status),
		Body:    fmt.Sprintf("Your withdrawal request #%d for %s is now %s.", res.ID, model.FormatAmount(res.Amount), res.Status),
	})
	return &res, nil
}

// Withdrawals возвращает заявки продавца на вывод.
func (s *Service) Withdrawals(ctx context.Context, vendorID int64) ([]model.Withdrawal, error) {
	return s.repo.WithdrawalsByVendor(ctx, vendorID)
}
