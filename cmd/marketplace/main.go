// Package main запускает HTTP-сервер журнала расчётов маркетплейса.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/marketplace-ledger/internal/config"
	"github.com/mmeshcher/marketplace-ledger/internal/gateway"
	"github.com/mmeshcher/marketplace-ledger/internal/handler"
	"github.com/mmeshcher/marketplace-ledger/internal/ledger"
	"github.com/mmeshcher/marketplace-ledger/internal/metrics"
	"github.com/mmeshcher/marketplace-ledger/internal/middleware"
	"github.com/mmeshcher/marketplace-ledger/internal/notify"
	"github.com/mmeshcher/marketplace-ledger/internal/repository"
	"github.com/mmeshcher/marketplace-ledger/internal/service"
	"github.com/mmeshcher/marketplace-ledger/internal/settings"
	"github.com/mmeshcher/marketplace-ledger/internal/sweeplock"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	adminSettings, err := settings.Load(cfg.SettingsPath)
	if err != nil {
		sugar.Fatalw("settings error", "error", err.Error())
	}

	rate := cfg.CommissionRate
	if r, ok := adminSettings.CommissionRate(); ok {
		rate = r
	}
	autoCompleteDays := cfg.AutoCompleteDays
	if d, ok := adminSettings.AutoCompleteDays(); ok {
		autoCompleteDays = d
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI, cfg.Migrate)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	m := metrics.New()

	book, err := ledger.New(rate, m)
	if err != nil {
		sugar.Fatalw("ledger initialization error", "error", err.Error())
	}

	gw := gateway.NewClient(gateway.Config{
		BaseURL:     cfg.GatewayBaseURL,
		SecretKey:   cfg.GatewaySecretKey,
		ReturnURL:   cfg.GatewayReturnURL,
		CallbackURL: cfg.GatewayCallbackURL,
		Offline:     cfg.GatewayOffline,
		Timeout:     cfg.GatewayTimeout,
	})
	if gw.Offline() {
		sugar.Warn("payment gateway is in offline mode, checkout sessions are simulated")
	}

	var sink notify.Sink = notify.NewLogSink(logger)
	if cfg.SMTPHost != "" {
		sink = notify.NewSMTPSink(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}
	dispatcher := notify.NewDispatcher(sink, logger, notify.Options{
		Directory: notify.DirectoryFunc(func(ctx context.Context, userID int64) (string, error) {
			u, err := repo.UserByID(ctx, userID)
			if err != nil {
				return "", err
			}
			return u.Email, nil
		}),
		Drops: m,
	})

	var locker sweeplock.Locker = sweeplock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		locker = sweeplock.NewRedisLocker(rdb)
	}

	svc := service.NewService(repo, gw, book, dispatcher, logger, service.Options{
		SettleOnPayment:   cfg.SettleOnPayment,
		AdminEmail:        cfg.AdminEmail,
		ReconcileLookback: cfg.ReconcileLookback,
		ReconcileLimit:    cfg.ReconcileLimit,
		VerifyRPS:         cfg.VerifyRPS,
		AutoCompleteDays:  autoCompleteDays,
		RefundWindowDays:  adminSettings.RefundWindowDays(),
		Recorder:          m,
	})

	signature := middleware.NewSignatureMiddleware(cfg.GatewayWebhookSecret, logger)
	h := handler.NewHandler(svc, logger, signature, m)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(ctx)
	})

	// Периодическая сверка неоплаченных заказов со шлюзом
	g.Go(func() error {
		return svc.RunReconcileLoop(ctx, cfg.ReconcileInterval, locker)
	})

	g.Go(func() error {
		return svc.RunAutoCompleteLoop(ctx, cfg.AutoCompleteInterval, locker)
	})

	g.Go(func() error {
		sugar.Infow("starting marketplace server",
			"addr", cfg.RunAddress,
			"commission_rate", rate.String(),
			"settle_on_payment", cfg.SettleOnPayment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
