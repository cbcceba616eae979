package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/marketplace-ledger/internal/model"
)

// ErrUserNotFound возвращается, если пользователь не найден.
var ErrUserNotFound = errors.New("user not found")

// UserByID возвращает контактные данные пользователя.
func (r *PostgresRepository) UserByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, first_name, last_name, email, phone FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// OrderByID возвращает заказ по идентификатору.
func (r *PostgresRepository) OrderByID(ctx context.Context, id int64) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns(r.grouping.Load())+` FROM orders WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", model.ErrOrderNotFound, id)
		}
		return nil, classify("get order", err)
	}
	return &o, nil
}

// OrdersByTxRef возвращает группу (если есть) и заказы, связанные со ссылкой на транзакцию.
func (r *PostgresRepository) OrdersByTxRef(ctx context.Context, txRef string) (*model.Grouping, []model.Order, error) {
	grouping := r.grouping.Load()

	var group *model.Grouping
	if grouping {
		g, err := scanGrouping(r.pool.QueryRow(ctx,
			`SELECT `+groupingColumns+` FROM order_groups WHERE tx_ref = $1`,
			txRef,
		))
		switch {
		case err == nil:
			group = &g
		case errors.Is(err, pgx.ErrNoRows):
		default:
			return nil, nil, classify("get grouping", err)
		}
	}

	var (
		rows pgx.Rows
		err  error
	)
	if group != nil {
		rows, err = r.pool.Query(ctx,
			`SELECT `+orderColumns(true)+` FROM orders
			 WHERE payment_reference = $1 OR parent_order_id = $2 ORDER BY id`,
			txRef, group.ID,
		)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT `+orderColumns(grouping)+` FROM orders WHERE payment_reference = $1 ORDER BY id`,
			txRef,
		)
	}
	if err != nil {
		return nil, nil, classify("select orders by tx_ref", err)
	}

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, nil, err
	}
	return group, orders, nil
}

// ReconcileCandidates возвращает неоплаченные заказы шлюза, созданные после since, начиная с новых.
func (r *PostgresRepository) ReconcileCandidates(ctx context.Context, since time.Time, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns(r.grouping.Load())+` FROM orders
		 WHERE payment_method = $1
		   AND (payment_status = $2 OR payment_status IS NULL)
		   AND created_at >= $3
		   AND payment_reference IS NOT NULL
		 ORDER BY created_at DESC
		 LIMIT $4`,
		model.PaymentMethodGateway, string(model.PaymentStatusPending), since, limit,
	)
	if err != nil {
		return nil, classify("select reconcile candidates", err)
	}
	return scanOrders(rows)
}

// AutoCompleteCandidates возвращает заказы в исполнении, не менявшиеся с cutoff и без открытых споров.
func (r *PostgresRepository) AutoCompleteCandidates(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.id FROM orders o
		 WHERE o.status IN ($1, $2, $3)
		   AND o.updated_at <= $4
		   AND NOT EXISTS (SELECT 1 FROM refunds rf WHERE rf.order_id = o.id AND rf.status = 'pending')
		 ORDER BY o.id
		 LIMIT $5`,
		string(model.OrderStatusConfirmed), string(model.OrderStatusShipped), string(model.OrderStatusDelivered),
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select auto-complete candidates: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ids, nil
}

// Wallet возвращает кошелёк продавца; для продавца без кошелька возвращаются нулевые балансы.
func (r *PostgresRepository) Wallet(ctx context.Context, vendorID int64) (model.Wallet, error) {
	w, err := scanWallet(r.pool.QueryRow(ctx,
		`SELECT vendor_id, balance, pending, created_at, updated_at FROM vendor_wallets WHERE vendor_id = $1`,
		vendorID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Wallet{VendorID: vendorID}, nil
		}
		return model.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

// LedgerEntries возвращает проводки продавца, начиная с новых. limit <= 0 — без ограничения.
func (r *PostgresRepository) LedgerEntries(ctx context.Context, vendorID int64, limit int) ([]model.LedgerEntry, error) {
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM wallet_ledger WHERE vendor_id = $1 ORDER BY id DESC LIMIT $2`,
		vendorID, limitArg,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// WithdrawalsByVendor возвращает заявки продавца на вывод, начиная с новых.
func (r *PostgresRepository) WithdrawalsByVendor(ctx context.Context, vendorID int64) ([]model.Withdrawal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE vendor_id = $1 ORDER BY created_at DESC, id DESC`,
		vendorID,
	)
	if err != nil {
		return nil, fmt.Errorf("select withdrawals: %w", err)
	}
	defer rows.Close()

	var res []model.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		res = append(res, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
