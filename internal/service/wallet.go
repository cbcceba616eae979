package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/marketplace-ledger/internal/ledger"
	"github.com/mmeshcher/marketplace-ledger/internal/model"
)

const (
	defaultLedgerLimit = 100
	maxLedgerLimit     = 500
)

// WalletAudit сравнивает кошелёк продавца с результатом воспроизведения его журнала.
type WalletAudit struct {
	Wallet     model.Wallet
	Replayed   ledger.Balance
	Entries    int
	Consistent bool
}

// Wallet возвращает кошелёк продавца.
func (s *Service) Wallet(ctx context.Context, vendorID int64) (model.Wallet, error) {
	if vendorID <= 0 {
		return model.Wallet{}, fmt.Errorf("%w: vendor id", model.ErrInvalidInput)
	}
	return s.repo.Wallet(ctx, vendorID)
}

// Ledger возвращает последние проводки продавца, начиная с новых.
func (s *Service) Ledger(ctx context.Context, vendorID int64, limit int) ([]model.LedgerEntry, error) {
	if vendorID <= 0 {
		return nil, fmt.Errorf("%w: vendor id", model.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = defaultLedgerLimit
	}
	return s.repo.LedgerEntries(ctx, vendorID, min(limit, maxLedgerLimit))
}

// AuditWallet воспроизводит весь журнал продавца и сравнивает результат с кошельком.
func (s *Service) AuditWallet(ctx context.Context, vendorID int64) (*WalletAudit, error) {
	w, err := s.Wallet(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.LedgerEntries(ctx, vendorID, 0)
	if err != nil {
		return nil, err
	}

	b := ledger.Replay(entries)
	return &WalletAudit{
		Wallet:     w,
		Replayed:   b,
		Entries:    len(entries),
		Consistent: b.Matches(w),
	}, nil
}
