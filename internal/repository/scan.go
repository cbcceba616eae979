package repository

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/marketplace-ledger/internal/model"
)

func orderColumns(grouping bool) string {
	parent := "NULL::bigint"
	if grouping {
		parent = "parent_order_id"
	}
	return `id, buyer_id, vendor_id, ` + parent + `, total, currency, status,
		COALESCE(payment_status, 'pending'), COALESCE(payment_method, ''), COALESCE(payment_reference, ''),
		COALESCE(checkout_url, ''), COALESCE(receipt_url, ''), shipping_address, created_at, updated_at`
}

func scanOrder(row pgx.Row) (model.Order, error) {
	var (
		o             model.Order
		status        string
		paymentStatus string
		shipping      []byte
	)
	err := row.Scan(&o.ID, &o.BuyerID, &o.VendorID, &o.ParentID, &o.Total, &o.Currency, &status,
		&paymentStatus, &o.PaymentMethod, &o.PaymentReference, &o.CheckoutURL, &o.ReceiptURL,
		&shipping, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return model.Order{}, err
	}
	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.PaymentStatus(paymentStatus)
	o.Shipping = shipping
	return o, nil
}

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

const groupingColumns = `id, buyer_id, total, COALESCE(tx_ref, ''), status, created_at, updated_at`

func scanGrouping(row pgx.Row) (model.Grouping, error) {
	var (
		g      model.Grouping
		status string
	)
	if err := row.Scan(&g.ID, &g.BuyerID, &g.Total, &g.TxRef, &status, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return model.Grouping{}, err
	}
	g.Status = model.GroupStatus(status)
	return g, nil
}

const entryColumns = `id, vendor_id, order_id, parent_order_id, type, amount,
	commission_rate::text, commission, description, created_at`

func scanEntry(row pgx.Row) (model.LedgerEntry, error) {
	var (
		e    model.LedgerEntry
		typ  string
		rate *string
	)
	err := row.Scan(&e.ID, &e.VendorID, &e.OrderID, &e.ParentOrderID, &typ, &e.Amount,
		&rate, &e.Commission, &e.Description, &e.CreatedAt)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	e.Type = model.EntryType(typ)
	if rate != nil {
		d, err := decimal.NewFromString(*rate)
		if err != nil {
			return model.LedgerEntry{}, fmt.Errorf("parse commission rate %q: %w", *rate, err)
		}
		e.CommissionRate = &d
	}
	return e, nil
}

const withdrawalColumns = `id, vendor_id, amount, status, method, account_ref, created_at, updated_at`

func scanWithdrawal(row pgx.Row) (model.Withdrawal, error) {
	var (
		w      model.Withdrawal
		status string
	)
	if err := row.Scan(&w.ID, &w.VendorID, &w.Amount, &status, &w.Method, &w.AccountRef, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return model.Withdrawal{}, err
	}
	w.Status = model.WithdrawalStatus(status)
	return w, nil
}

func scanWallet(row pgx.Row) (model.Wallet, error) {
	var w model.Wallet
	if err := row.Scan(&w.VendorID, &w.Balance, &w.Pending, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return model.Wallet{}, err
	}
	return w, nil
}

func rateParam(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
