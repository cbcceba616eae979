package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/marketplace-ledger/internal/ledger"
	"github.com/mmeshcher/marketplace-ledger/internal/model"
)

// Tx описывает операции, выполняемые внутри одной транзакции БД.
type Tx interface {
	ledger.Tx

	ProductsByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error)
	CreateGrouping(ctx context.Context, g *model.Grouping) error
	SetGroupingTxRef(ctx context.Context, id int64, txRef string) error
	CreateOrder(ctx context.Context, o *model.Order, lines []model.OrderLine) error
	SetOrderCheckout(ctx context.Context, orderID int64, txRef, checkoutURL string) error

	// LockGroupingByTxRef блокирует группу по ссылке на транзакцию; nil, если группы нет.
	LockGroupingByTxRef(ctx context.Context, txRef string) (*model.Grouping, error)
	// LockOrdersByTxRef блокирует заказы со ссылкой txRef или принадлежащие группе, в порядке id.
	LockOrdersByTxRef(ctx context.Context, txRef string, groupingID *int64) ([]model.Order, error)
	LockOrder(ctx context.Context, id int64) (model.Order, error)
	OrderLines(ctx context.Context, orderID int64) ([]model.OrderLine, error)
	UpdateOrder(ctx context.Context, o model.Order) error
	UpdateGroupingStatus(ctx context.Context, id int64, status model.GroupStatus) error

	CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error
	LockWithdrawal(ctx context.Context, id int64) (model.Withdrawal, error)
	UpdateWithdrawalStatus(ctx context.Context, id int64, status model.WithdrawalStatus) error
}

type pgTx struct {
	tx       pgx.Tx
	grouping bool
}

func (t *pgTx) ProductsByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, vendor_id, name, price FROM products WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	res := make(map[int64]model.Product, len(ids))
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.VendorID, &p.Name, &p.Price); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) CreateGrouping(ctx context.Context, g *model.Grouping) error {
	if !t.grouping {
		return fmt.Errorf("insert grouping: %w: grouping is not supported", ErrSchemaConflict)
	}

	err := t.tx.QueryRow(ctx,
		`INSERT INTO order_groups (buyer_id, total, status) VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		g.BuyerID, g.Total, string(g.Status),
	).Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return classify("insert grouping", err)
	}
	return nil
}

func (t *pgTx) SetGroupingTxRef(ctx context.Context, id int64, txRef string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE order_groups SET tx_ref = $2, updated_at = now() WHERE id = $1`,
		id, txRef,
	)
	if err != nil {
		return classify("update grouping tx_ref", err)
	}
	return nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *model.Order, lines []model.OrderLine) error {
	var payStatus *string
	if o.PaymentStatus != "" {
		s := string(o.PaymentStatus)
		payStatus = &s
	}

	var row pgx.Row
	if o.ParentID != nil {
		row = t.tx.QueryRow(ctx,
			`INSERT INTO orders (buyer_id, vendor_id, parent_order_id, total, currency, status, payment_status, payment_method, shipping_address)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id, created_at, updated_at`,
			o.BuyerID, o.VendorID, *o.ParentID, o.Total, o.Currency, string(o.Status), payStatus, o.PaymentMethod, []byte(o.Shipping),
		)
	} else {
		row = t.tx.QueryRow(ctx,
			`INSERT INTO orders (buyer_id, vendor_id, total, currency, status, payment_status, payment_method, shipping_address)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING id, created_at, updated_at`,
			o.BuyerID, o.VendorID, o.Total, o.Currency, string(o.Status), payStatus, o.PaymentMethod, []byte(o.Shipping),
		)
	}
	if err := row.Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return classify("insert order", err)
	}

	batch := &pgx.Batch{}
	for i := range lines {
		lines[i].OrderID = o.ID
		batch.Queue(
			`INSERT INTO order_items (order_id, product_id, quantity, unit_price, color, size)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			o.ID, lines[i].ProductID, lines[i].Quantity, lines[i].UnitPrice, lines[i].Color, lines[i].Size,
		)
	}

	br := t.tx.SendBatch(ctx, batch)
	for i := range lines {
		if err := br.QueryRow().Scan(&lines[i].ID); err != nil {
			_ = br.Close()
			return classify("insert order item", err)
		}
	}
	if err := br.Close(); err != nil {
		return classify("insert order items", err)
	}
	return nil
}

func (t *pgTx) SetOrderCheckout(ctx context.Context, orderID int64, txRef, checkoutURL string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE orders SET payment_reference = $2, checkout_url = NULLIF($3, ''), updated_at = now() WHERE id = $1`,
		orderID, txRef, checkoutURL,
	)
	if err != nil {
		return classify("update order checkout", err)
	}
	return nil
}

func (t *pgTx) LockGroupingByTxRef(ctx context.Context, txRef string) (*model.Grouping, error) {
	if !t.grouping {
		return nil, nil
	}

	g, err := scanGrouping(t.tx.QueryRow(ctx,
		`SELECT `+groupingColumns+` FROM order_groups WHERE tx_ref = $1 FOR UPDATE`,
		txRef,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("lock grouping", err)
	}
	return &g, nil
}

func (t *pgTx) LockOrdersByTxRef(ctx context.Context, txRef string, groupingID *int64) ([]model.Order, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if t.grouping && groupingID != nil {
		rows, err = t.tx.Query(ctx,
			`SELECT `+orderColumns(true)+` FROM orders
			 WHERE payment_reference = $1 OR parent_order_id = $2
			 ORDER BY id FOR UPDATE`,
			txRef, *groupingID,
		)
	} else {
		rows, err = t.tx.Query(ctx,
			`SELECT `+orderColumns(t.grouping)+` FROM orders
			 WHERE payment_reference = $1
			 ORDER BY id FOR UPDATE`,
			txRef,
		)
	}
	if err != nil {
		return nil, classify("lock orders", err)
	}

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, classify("lock orders", err)
	}
	return orders, nil
}

func (t *pgTx) LockOrder(ctx context.Context, id int64) (model.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx,
		`SELECT `+orderColumns(t.grouping)+` FROM orders WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, fmt.Errorf("%w: %d", model.ErrOrderNotFound, id)
		}
		return model.Order{}, classify("lock order", err)
	}
	return o, nil
}

func (t *pgTx) OrderLines(ctx context.Context, orderID int64) ([]model.OrderLine, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price, color, size
		 FROM order_items WHERE order_id = $1 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	var res []model.OrderLine
	for rows.Next() {
		var l model.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.Color, &l.Size); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		res = append(res, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o model.Order) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE orders
		 SET status = $2, payment_status = $3, payment_method = NULLIF($4, ''),
		     payment_reference = NULLIF($5, ''), receipt_url = NULLIF($6, ''), updated_at = now()
		 WHERE id = $1`,
		o.ID, string(o.Status), string(o.PaymentStatus), o.PaymentMethod, o.PaymentReference, o.ReceiptURL,
	)
	if err != nil {
		return classify("update order", err)
	}
	return nil
}

func (t *pgTx) UpdateGroupingStatus(ctx context.Context, id int64, status model.GroupStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE order_groups SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return classify("update grouping status", err)
	}
	return nil
}

func (t *pgTx) LockWallet(ctx context.Context, vendorID int64) (model.Wallet, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO vendor_wallets (vendor_id) VALUES ($1) ON CONFLICT (vendor_id) DO NOTHING`,
		vendorID,
	)
	if err != nil {
		return model.Wallet{}, fmt.Errorf("ensure wallet: %w", err)
	}

	// Блокируем строку кошелька до конца транзакции.
	w, err := scanWallet(t.tx.QueryRow(ctx,
		`SELECT vendor_id, balance, pending, created_at, updated_at
		 FROM vendor_wallets WHERE vendor_id = $1 FOR UPDATE`,
		vendorID,
	))
	if err != nil {
		return model.Wallet{}, fmt.Errorf("lock wallet for update: %w", err)
	}
	return w, nil
}

func (t *pgTx) SaveWallet(ctx context.Context, w model.Wallet) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE vendor_wallets SET balance = $2, pending = $3, updated_at = now() WHERE vendor_id = $1`,
		w.VendorID, w.Balance, w.Pending,
	)
	if err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}
	return nil
}

func (t *pgTx) FindOrderEntry(ctx context.Context, orderID int64, typ model.EntryType) (*model.LedgerEntry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM wallet_ledger WHERE order_id = $1 AND type = $2 ORDER BY id LIMIT 1`,
		orderID, string(typ),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select ledger entry: %w", err)
	}
	return &e, nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e *model.LedgerEntry) error {
	parent := e.ParentOrderID
	if !t.grouping {
		parent = nil
	}

	err := t.tx.QueryRow(ctx,
		`INSERT INTO wallet_ledger (vendor_id, order_id, parent_order_id, type, amount, commission_rate, commission, description)
		 VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8)
		 RETURNING id, created_at`,
		e.VendorID, e.OrderID, parent, string(e.Type), e.Amount, rateParam(e.CommissionRate), e.Commission, e.Description,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return classify("insert ledger entry", err)
	}
	return nil
}

func (t *pgTx) CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO withdrawal_requests (vendor_id, amount, status, method, account_ref)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		w.VendorID, w.Amount, string(w.Status), w.Method, w.AccountRef,
	).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

func (t *pgTx) LockWithdrawal(ctx context.Context, id int64) (model.Withdrawal, error) {
	w, err := scanWithdrawal(t.tx.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Withdrawal{}, fmt.Errorf("%w: %d", model.ErrWithdrawalNotFound, id)
		}
		return model.Withdrawal{}, fmt.Errorf("lock withdrawal: %w", err)
	}
	return w, nil
}

func (t *pgTx) UpdateWithdrawalStatus(ctx context.Context, id int64, status model.WithdrawalStatus) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE withdrawal_requests SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("update withdrawal: %w", err)
	}
	return nil
}
