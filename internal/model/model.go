// Package model содержит доменные сущности маркетплейса: заказы, кошельки продавцов, журнал проводок и заявки на вывод.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethodGateway — способ оплаты через внешний платёжный шлюз.
const PaymentMethodGateway = "chapa"

// OrderStatus описывает статус исполнения заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus описывает статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// GroupStatus описывает статус родительской группы заказов.
type GroupStatus string

const (
	GroupStatusPending   GroupStatus = "pending"
	GroupStatusPaid      GroupStatus = "paid"
	GroupStatusCompleted GroupStatus = "completed"
	GroupStatusCancelled GroupStatus = "cancelled"
)

// EntryType описывает тип проводки в журнале кошелька.
type EntryType string

const (
	EntryPendingCredit EntryType = "pending_credit"
	EntryCredit        EntryType = "credit"
	EntryDebit         EntryType = "debit"
	EntryPayout        EntryType = "payout"
)

// WithdrawalStatus описывает статус заявки на вывод средств.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalPaid     WithdrawalStatus = "paid"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// Product — товар каталога в том виде, в котором он нужен при оформлении заказа.
type Product struct {
	ID       int64
	VendorID int64
	Name     string
	Price    int64
}

// User содержит контактные данные покупателя или продавца.
type User struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// CartLine — строка корзины, поступившая на оформление.
type CartLine struct {
	ProductID int64
	Quantity  int
	Color     string
	Size      string
}

// Grouping объединяет дочерние заказы одного оформления.
type Grouping struct {
	ID        int64
	BuyerID   int64
	Total     int64
	TxRef     string
	Status    GroupStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Order — заказ одного продавца в рамках оформления.
type Order struct {
	ID               int64
	BuyerID          int64
	VendorID         int64
	ParentID         *int64
	Total            int64
	Currency         string
	Status           OrderStatus
	PaymentStatus    PaymentStatus
	PaymentMethod    string
	PaymentReference string
	CheckoutURL      string
	ReceiptURL       string
	Shipping         json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderLine — позиция заказа с ценой, зафиксированной в момент покупки.
type OrderLine struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
	UnitPrice int64
	Color     string
	Size      string
}

// Total возвращает стоимость позиции в минимальных единицах валюты.
func (l OrderLine) Total() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Wallet — кошелёк продавца: доступный баланс и средства в ожидании.
type Wallet struct {
	VendorID  int64
	Balance   int64
	Pending   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LedgerEntry — неизменяемая проводка журнала кошелька.
type LedgerEntry struct {
	ID             int64
	VendorID       int64
	OrderID        *int64
	ParentOrderID  *int64
	Type           EntryType
	Amount         int64
	CommissionRate *decimal.Decimal
	Commission     *int64
	Description    string
	CreatedAt      time.Time
}

// Withdrawal описывает заявку продавца на вывод средств.
type Withdrawal struct {
	ID         int64
	VendorID   int64
	Amount     int64
	Status     WithdrawalStatus
	Method     string
	AccountRef string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
