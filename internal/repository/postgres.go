// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/marketplace-ledger/internal/ledger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSchemaConflict возвращается, если запрос обращается к отсутствующей в схеме колонке или таблице.
var ErrSchemaConflict = errors.New("schema conflict")

// Capabilities описывает необязательные возможности схемы, обнаруженные при старте.
type Capabilities struct {
	// Grouping — есть таблица order_groups и колонка orders.parent_order_id.
	Grouping bool
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool     *pgxpool.Pool
	grouping atomic.Bool
}

// NewPostgresRepository создаёт новый репозиторий, при необходимости применяет миграции
// и определяет возможности схемы.
func NewPostgresRepository(dsn string, migrate bool) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if migrate {
		if err := r.runMigrations(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	if err := r.probeCapabilities(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) probeCapabilities(ctx context.Context) error {
	var hasColumn, hasTable bool
	err := r.pool.QueryRow(ctx,
		`SELECT
			EXISTS (SELECT 1 FROM information_schema.columns
			        WHERE table_schema = current_schema() AND table_name = 'orders' AND column_name = 'parent_order_id'),
			EXISTS (SELECT 1 FROM information_schema.tables
			        WHERE table_schema = current_schema() AND table_name = 'order_groups')`,
	).Scan(&hasColumn, &hasTable)
	if err != nil {
		return fmt.Errorf("probe schema: %w", err)
	}

	r.grouping.Store(hasColumn && hasTable)
	return nil
}

// Capabilities возвращает возможности схемы.
func (r *PostgresRepository) Capabilities() Capabilities {
	return Capabilities{Grouping: r.grouping.Load()}
}

type noRetryKey struct{}

// WithoutRetry помечает контекст: WithinTx выполнит транзакцию не более одного раза.
// Нужен, когда fn обращается к внешним системам, вызов которых нельзя повторить.
func WithoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

// Retryable сообщает, может ли транзакция с контекстом ctx выполняться повторно.
func Retryable(ctx context.Context) bool {
	noRetry, _ := ctx.Value(noRetryKey{}).(bool)
	return !noRetry
}

// WithinTx выполняет fn в транзакции. Сбои сериализации, взаимоблокировки и дубликаты проводок
// приводят к повторному выполнению всей транзакции, если контекст не помечен WithoutRetry.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	attempt := func(ctx context.Context) error {
		pgxTx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer pgxTx.Rollback(ctx)

		if err := fn(ctx, &pgTx{tx: pgxTx, grouping: r.grouping.Load()}); err != nil {
			if errors.Is(err, ErrSchemaConflict) {
				r.grouping.Store(false)
			}
			return err
		}

		if err := pgxTx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	}

	if !Retryable(ctx) {
		return attempt(ctx)
	}
	return r.withRetry(ctx, attempt)
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(3, retry.WithJitter(50*time.Millisecond, retry.NewExponential(100*time.Millisecond)))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	if errors.Is(err, ledger.ErrDuplicateEntry) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

// isConnectionError учитывает только ошибки драйвера: ошибки шлюза внутри транзакции не должны
// приводить к её повтору.
func isConnectionError(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// classify переводит ошибки PostgreSQL в ошибки уровня репозитория.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UndefinedColumn, pgerrcode.UndefinedTable:
			return fmt.Errorf("%s: %w: %s", op, ErrSchemaConflict, pgErr.Message)
		case pgerrcode.UniqueViolation:
			if pgErr.ConstraintName == "wallet_ledger_order_type_idx" {
				return fmt.Errorf("%s: %w", op, ledger.ErrDuplicateEntry)
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ping проверяет доступность базы данных.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
