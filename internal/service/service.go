// Package service реализует бизнес-логику маркетплейса: оформление заказов, сверку платежей,
// жизненный цикл заказов и выводы средств продавцов.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mmeshcher/marketplace-ledger/internal/ledger"
	"github.com/mmeshcher/marketplace-ledger/internal/model"
	"github.com/mmeshcher/marketplace-ledger/internal/notify"
	"github.com/mmeshcher/marketplace-ledger/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error
	Capabilities() repository.Capabilities
	Ping(ctx context.Context) error

	UserByID(ctx context.Context, id int64) (*model.User, error)
	OrderByID(ctx context.Context, id int64) (*model.Order, error)
	OrdersByTxRef(ctx context.Context, txRef string) (*model.Grouping, []model.Order, error)
	ReconcileCandidates(ctx context.Context, since time.Time, limit int) ([]model.Order, error)
	AutoCompleteCandidates(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
	Wallet(ctx context.Context, vendorID int64) (model.Wallet, error)
	LedgerEntries(ctx context.Context, vendorID int64, limit int) ([]model.LedgerEntry, error)
	WithdrawalsByVendor(ctx context.Context, vendorID int64) ([]model.Withdrawal, error)
}

// Notifier принимает уведомления без блокировки вызывающего.
type Notifier interface {
	Notify(msg notify.Message) bool
}

// ReconcileRecorder учитывает результаты проверки платежей.
type ReconcileRecorder interface {
	Reconciled(source, outcome string)
}

// Options задаёт параметры сервиса, прочитанные из конфигурации при старте.
type Options struct {
	// SettleOnPayment переводит оплаченный заказ сразу в completed с зачислением в доступный баланс.
	SettleOnPayment bool
	AdminEmail      string

	ReconcileLookback time.Duration
	ReconcileLimit    int

	// VerifyRPS ограничивает частоту запросов проверки к шлюзу при сверке; 0 — без ограничения.
	VerifyRPS float64

	AutoCompleteDays int

	// RefundWindowDays не даёт автоматически завершить заказ, пока покупатель может запросить возврат.
	RefundWindowDays int

	Recorder ReconcileRecorder
}

const (
	defaultLookback     = 24 * time.Hour
	defaultSweepLimit   = 50
	maxSweepLimit       = 500
	defaultAutoComplete = 7
	autoCompleteBatch   = 500
)

func (o *Options) applyDefaults() {
	if o.ReconcileLookback <= 0 {
		o.ReconcileLookback = defaultLookback
	}
	if o.ReconcileLimit <= 0 {
		o.ReconcileLimit = defaultSweepLimit
	}
	if o.ReconcileLimit > maxSweepLimit {
		o.ReconcileLimit = maxSweepLimit
	}
	if o.AutoCompleteDays <= 0 {
		o.AutoCompleteDays = defaultAutoComplete
	}
}

// Service содержит бизнес-логику маркетплейса.
type Service struct {
	repo     Repository
	gateway  Gateway
	ledger   *ledger.Ledger
	notifier Notifier
	logger   *zap.Logger
	opts     Options
	limiter  *rate.Limiter
	now      func() time.Time
}

// NewService создаёт сервис. notifier может быть nil: уведомления тогда не отправляются.
func NewService(repo Repository, gw Gateway, l *ledger.Ledger, notifier Notifier, logger *zap.Logger, opts Options) *Service {
	opts.applyDefaults()

	limit := rate.Inf
	if opts.VerifyRPS > 0 {
		limit = rate.Limit(opts.VerifyRPS)
	}

	return &Service{
		repo:     repo,
		gateway:  gw,
		ledger:   l,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
	}
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) notify(msg notify.Message) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(msg)
}

func (s *Service) record(source, outcome string) {
	if s.opts.Recorder != nil {
		s.opts.Recorder.Reconciled(source, outcome)
	}
}
