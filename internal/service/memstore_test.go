package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/mmeshcher/marketplace-ledger/internal/ledger"
	"github.com/mmeshcher/marketplace-ledger/internal/model"
	"github.com/mmeshcher/marketplace-ledger/internal/repository"
)

// memStore — хранилище в памяти с теми же контрактами, что и PostgreSQL.
// Транзакции выполняются последовательно; при ошибке состояние откатывается к снимку.
type memStore struct {
	mu sync.Mutex

	grouping     bool
	noParentCol  bool
	nextID       int64
	users        map[int64]model.User
	products     map[int64]model.Product
	groupings    map[int64]model.Grouping
	orders       map[int64]model.Order
	lines        map[int64][]model.OrderLine
	wallets      map[int64]model.Wallet
	entries      []model.LedgerEntry
	withdrawals  map[int64]model.Withdrawal
	disputes     map[int64]bool
	committedTxs int

	// retryableTxs — разрешён ли повтор для каждой начатой транзакции
	retryableTxs []bool
}

func newMemStore() *memStore {
	return &memStore{
		grouping:    true,
		users:       make(map[int64]model.User),
		products:    make(map[int64]model.Product),
		groupings:   make(map[int64]model.Grouping),
		orders:      make(map[int64]model.Order),
		lines:       make(map[int64][]model.OrderLine),
		wallets:     make(map[int64]model.Wallet),
		withdrawals: make(map[int64]model.Withdrawal),
		disputes:    make(map[int64]bool),
	}
}

type memSnapshot struct {
	nextID      int64
	groupings   map[int64]model.Grouping
	orders      map[int64]model.Order
	lines       map[int64][]model.OrderLine
	wallets     map[int64]model.Wallet
	entries     []model.LedgerEntry
	withdrawals map[int64]model.Withdrawal
}

func (m *memStore) snapshot() memSnapshot {
	return memSnapshot{
		nextID:      m.nextID,
		groupings:   maps.Clone(m.groupings),
		orders:      maps.Clone(m.orders),
		lines:       maps.Clone(m.lines),
		wallets:     maps.Clone(m.wallets),
		entries:     slices.Clone(m.entries),
		withdrawals: maps.Clone(m.withdrawals),
	}
}

func (m *memStore) restore(s memSnapshot) {
	m.nextID = s.nextID
	m.groupings = s.groupings
	m.orders = s.orders
	m.lines = s.lines
	m.wallets = s.wallets
	m.entries = s.entries
	m.withdrawals = s.withdrawals
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryableTxs = append(m.retryableTxs, repository.Retryable(ctx))

	snap := m.snapshot()
	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.restore(snap)
		if errors.Is(err, repository.ErrSchemaConflict) {
			m.grouping = false
		}
		return err
	}
	m.committedTxs++
	return nil
}

func (m *memStore) Capabilities() repository.Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return repository.Capabilities{Grouping: m.grouping}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) UserByID(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

func (m *memStore) OrderByID(_ context.Context, id int64) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", model.ErrOrderNotFound, id)
	}
	return &o, nil
}

func (m *memStore) OrdersByTxRef(_ context.Context, txRef string) (*model.Grouping, []model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.groupingByTxRef(txRef)
	var groupID *int64
	if g != nil {
		groupID = &g.ID
	}
	return g, m.ordersByTxRef(txRef, groupID), nil
}

func (m *memStore) ReconcileCandidates(_ context.Context, since time.Time, limit int) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Order
	for _, o := range m.orders {
		if o.PaymentMethod != model.PaymentMethodGateway || o.PaymentReference == "" || o.CreatedAt.Before(since) {
			continue
		}
		if o.PaymentStatus != model.PaymentStatusPending && o.PaymentStatus != "" {
			continue
		}
		res = append(res, o)
	}
	slices.SortFunc(res, func(a, b model.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *memStore) AutoCompleteCandidates(_ context.Context, cutoff time.Time, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int64
	for _, o := range m.orders {
		switch o.Status {
		case model.OrderStatusConfirmed, model.OrderStatusShipped, model.OrderStatusDelivered:
		default:
			continue
		}
		if o.UpdatedAt.After(cutoff) || m.disputes[o.ID] {
			continue
		}
		ids = append(ids, o.ID)
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memStore) Wallet(_ context.Context, vendorID int64) (model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.wallets[vendorID]; ok {
		return w, nil
	}
	return model.Wallet{VendorID: vendorID}, nil
}

func (m *memStore) LedgerEntries(_ context.Context, vendorID int64, limit int) ([]model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].VendorID == vendorID {
			res = append(res, m.entries[i])
		}
	}
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *memStore) WithdrawalsByVendor(_ context.Context, vendorID int64) ([]model.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Withdrawal
	for _, w := range m.withdrawals {
		if w.VendorID == vendorID {
			res = append(res, w)
		}
	}
	slices.SortFunc(res, func(a, b model.Withdrawal) int { return int(b.ID - a.ID) })
	return res, nil
}

func (m *memStore) groupingByTxRef(txRef string) *model.Grouping {
	if !m.grouping {
		return nil
	}
	for _, g := range m.groupings {
		if g.TxRef == txRef {
			return &g
		}
	}
	return nil
}

func (m *memStore) ordersByTxRef(txRef string, groupID *int64) []model.Order {
	var res []model.Order
	for _, o := range m.orders {
		if o.PaymentReference == txRef || (groupID != nil && o.ParentID != nil && *o.ParentID == *groupID) {
			res = append(res, o)
		}
	}
	slices.SortFunc(res, func(a, b model.Order) int { return int(a.ID - b.ID) })
	return res
}

// вспомогательные методы для подготовки данных в тестах

func (m *memStore) addProduct(id, vendorID, price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = model.Product{ID: id, VendorID: vendorID, Name: fmt.Sprintf("product %d", id), Price: price}
}

func (m *memStore) putOrder(o model.Order, lines ...model.OrderLine) model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o.ID == 0 {
		o.ID = m.id()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	for i := range lines {
		lines[i].ID = m.id()
		lines[i].OrderID = o.ID
	}
	m.orders[o.ID] = o
	m.lines[o.ID] = lines
	return o
}

func (m *memStore) order(id int64) model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) vendorEntries(vendorID int64, typ model.EntryType) []model.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.LedgerEntry
	for _, e := range m.entries {
		if e.VendorID == vendorID && (typ == "" || e.Type == typ) {
			res = append(res, e)
		}
	}
	return res
}

type memTx struct {
	m *memStore
}

func (t *memTx) ProductsByIDs(_ context.Context, ids []int64) (map[int64]model.Product, error) {
	res := make(map[int64]model.Product)
	for _, id := range ids {
		if p, ok := t.m.products[id]; ok {
			res[id] = p
		}
	}
	return res, nil
}

func (t *memTx) CreateGrouping(_ context.Context, g *model.Grouping) error {
	if !t.m.grouping {
		return fmt.Errorf("insert grouping: %w", repository.ErrSchemaConflict)
	}
	g.ID = t.m.id()
	g.CreatedAt = time.Now()
	g.UpdatedAt = g.CreatedAt
	t.m.groupings[g.ID] = *g
	return nil
}

func (t *memTx) SetGroupingTxRef(_ context.Context, id int64, txRef string) error {
	g := t.m.groupings[id]
	g.TxRef = txRef
	t.m.groupings[id] = g
	return nil
}

func (t *memTx) CreateOrder(_ context.Context, o *model.Order, lines []model.OrderLine) error {
	if o.ParentID != nil && t.m.noParentCol {
		return fmt.Errorf("insert order: %w: column \"parent_order_id\" does not exist", repository.ErrSchemaConflict)
	}
	o.ID = t.m.id()
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	t.m.orders[o.ID] = *o

	stored := make([]model.OrderLine, len(lines))
	for i, l := range lines {
		l.ID = t.m.id()
		l.OrderID = o.ID
		stored[i] = l
	}
	t.m.lines[o.ID] = stored
	return nil
}

func (t *memTx) SetOrderCheckout(_ context.Context, orderID int64, txRef, checkoutURL string) error {
	o := t.m.orders[orderID]
	o.PaymentReference = txRef
	o.CheckoutURL = checkoutURL
	t.m.orders[orderID] = o
	return nil
}

func (t *memTx) LockGroupingByTxRef(_ context.Context, txRef string) (*model.Grouping, error) {
	return t.m.groupingByTxRef(txRef), nil
}

func (t *memTx) LockOrdersByTxRef(_ context.Context, txRef string, groupingID *int64) ([]model.Order, error) {
	return t.m.ordersByTxRef(txRef, groupingID), nil
}

func (t *memTx) LockOrder(_ context.Context, id int64) (model.Order, error) {
	o, ok := t.m.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %d", model.ErrOrderNotFound, id)
	}
	return o, nil
}

func (t *memTx) OrderLines(_ context.Context, orderID int64) ([]model.OrderLine, error) {
	return slices.Clone(t.m.lines[orderID]), nil
}

func (t *memTx) UpdateOrder(_ context.Context, o model.Order) error {
	stored, ok := t.m.orders[o.ID]
	if !ok {
		return fmt.Errorf("%w: %d", model.ErrOrderNotFound, o.ID)
	}
	stored.Status = o.Status
	stored.PaymentStatus = o.PaymentStatus
	stored.PaymentMethod = o.PaymentMethod
	stored.PaymentReference = o.PaymentReference
	stored.ReceiptURL = o.ReceiptURL
	stored.UpdatedAt = time.Now()
	t.m.orders[o.ID] = stored
	return nil
}

func (t *memTx) UpdateGroupingStatus(_ context.Context, id int64, status model.GroupStatus) error {
	g := t.m.groupings[id]
	g.Status = status
	t.m.groupings[id] = g
	return nil
}

func (t *memTx) LockWallet(_ context.Context, vendorID int64) (model.Wallet, error) {
	w, ok := t.m.wallets[vendorID]
	if !ok {
		w = model.Wallet{VendorID: vendorID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		t.m.wallets[vendorID] = w
	}
	return w, nil
}

func (t *memTx) SaveWallet(_ context.Context, w model.Wallet) error {
	if w.Balance < 0 || w.Pending < 0 {
		return errors.New("wallet balance check violated")
	}
	w.UpdatedAt = time.Now()
	t.m.wallets[w.VendorID] = w
	return nil
}

func (t *memTx) FindOrderEntry(_ context.Context, orderID int64, typ model.EntryType) (*model.LedgerEntry, error) {
	for _, e := range t.m.entries {
		if e.OrderID != nil && *e.OrderID == orderID && e.Type == typ {
			return &e, nil
		}
	}
	return nil, nil
}

func (t *memTx) AppendEntry(_ context.Context, e *model.LedgerEntry) error {
	if e.OrderID != nil && (e.Type == model.EntryPendingCredit || e.Type == model.EntryCredit) {
		for _, existing := range t.m.entries {
			if existing.OrderID != nil && *existing.OrderID == *e.OrderID && existing.Type == e.Type {
				return ledger.ErrDuplicateEntry
			}
		}
	}
	e.ID = t.m.id()
	e.CreatedAt = time.Now()
	t.m.entries = append(t.m.entries, *e)
	return nil
}

func (t *memTx) CreateWithdrawal(_ context.Context, w *model.Withdrawal) error {
	w.ID = t.m.id()
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	t.m.withdrawals[w.ID] = *w
	return nil
}

func (t *memTx) LockWithdrawal(_ context.Context, id int64) (model.Withdrawal, error) {
	w, ok := t.m.withdrawals[id]
	if !ok {
		return model.Withdrawal{}, fmt.Errorf("%w: %d", model.ErrWithdrawalNotFound, id)
	}
	return w, nil
}

func (t *memTx) UpdateWithdrawalStatus(_ context.Context, id int64, status model.WithdrawalStatus) error {
	w := t.m.withdrawals[id]
	w.Status = status
	w.UpdatedAt = time.Now()
	t.m.withdrawals[id] = w
	return nil
}
