package service

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/lithammer/shortuuid/v4"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-ledger/internal/gateway"
	"github.com/mmeshcher/marketplace-ledger/internal/model"
	"github.com/mmeshcher/marketplace-ledger/internal/notify"
	"github.com/mmeshcher/marketplace-ledger/internal/repository"
	"github.com/mmeshcher/marketplace-ledger/internal/validation"
)

// SplitMode определяет, сколько платёжных сессий создаётся при оформлении.
type SplitMode string

const (
	// SplitSingle — одна сессия на всю корзину.
	SplitSingle SplitMode = "single"
	// SplitPerVendor — отдельная сессия на заказ каждого продавца.
	SplitPerVendor SplitMode = "per_vendor"
)

// CheckoutRequest — данные оформления корзины.
type CheckoutRequest struct {
	BuyerID   int64
	Items     []model.CartLine
	Shipping  json.RawMessage
	SplitMode SplitMode
	Currency  string

	// Group запрашивает родительскую группу заказов; nil означает «да» для одной сессии.
	Group   *bool
	Contact gateway.Customer
}

// Session — платёжная сессия заказа продавца.
type Session struct {
	OrderID     int64
	TxRef       string
	CheckoutURL string
	Amount      int64
}

// CheckoutResult — результат оформления.
type CheckoutResult struct {
	Mode          SplitMode
	ParentOrderID *int64
	OrderIDs      []int64
	TxRef         string
	CheckoutURL   string
	Total         int64
	Currency      string
	Sessions      []Session
}

type vendorCart struct {
	vendorID int64
	lines    []model.OrderLine
	total    int64
}

// Checkout разбивает корзину на заказы продавцов и создаёт платёжные сессии.
// Заказы и сессии создаются в одной транзакции: ошибка шлюза откатывает всё оформление.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.BuyerID <= 0 {
		return nil, fmt.Errorf("%w: buyer_id is required", model.ErrInvalidInput)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: items are required", model.ErrInvalidInput)
	}

	mode := req.SplitMode
	switch mode {
	case "":
		mode = SplitSingle
	case SplitSingle, SplitPerVendor:
	default:
		return nil, fmt.Errorf("%w: unknown split_mode %q", model.ErrInvalidInput, mode)
	}

	currency := validation.NormalizeCurrency(req.Currency)
	customer := s.resolveCustomer(ctx, req.BuyerID, req.Contact)

	group := mode == SplitSingle && (req.Group == nil || *req.Group) && s.repo.Capabilities().Grouping

	res, carts, err := s.checkout(ctx, req, mode, currency, customer, group)
	if group && errors.Is(err, repository.ErrSchemaConflict) {
		s.logger.Warn("grouping is not supported by schema, retrying checkout without grouping", zap.Error(err))
		res, carts, err = s.checkout(ctx, req, mode, currency, customer, false)
	}
	if err != nil {
		return nil, err
	}

	s.notifyCheckout(res, carts)
	return res, nil
}

func (s *Service) checkout(
	ctx context.Context,
	req CheckoutRequest,
	mode SplitMode,
	currency string,
	customer gateway.Customer,
	group bool,
) (*CheckoutResult, []vendorCart, error) {
	var (
		res   *CheckoutResult
		carts []vendorCart
	)

	// повтор транзакции создал бы вторую платёжную сессию в шлюзе
	err := s.repo.WithinTx(repository.WithoutRetry(ctx), func(ctx context.Context, tx repository.Tx) error {
		products, err := tx.ProductsByIDs(ctx, productIDs(req.Items))
		if err != nil {
			return err
		}

		var total int64
		carts, total = s.splitCart(req.Items, products)
		if len(carts) == 0 {
			return model.ErrNoValidItems
		}
		if total <= 0 {
			return model.ErrZeroTotal
		}

		r := &CheckoutResult{Mode: mode, Total: total, Currency: currency}

		if group {
			g := &model.Grouping{BuyerID: req.BuyerID, Total: total, Status: model.GroupStatusPending}
			if err := tx.CreateGrouping(ctx, g); err != nil {
				return err
			}
			r.ParentOrderID = &g.ID
		}

		orders := make([]model.Order, 0, len(carts))
		for _, c := range carts {
			o := model.Order{
				BuyerID:       req.BuyerID,
				VendorID:      c.vendorID,
				ParentID:      r.ParentOrderID,
				Total:         c.total,
				Currency:      currency,
				Status:        model.OrderStatusPending,
				PaymentStatus: model.PaymentStatusPending,
				PaymentMethod: model.PaymentMethodGateway,
				Shipping:      req.Shipping,
			}
			if err := tx.CreateOrder(ctx, &o, c.lines); err != nil {
				return err
			}
			orders = append(orders, o)
			r.OrderIDs = append(r.OrderIDs, o.ID)
		}

		if mode == SplitPerVendor {
			for _, o := range orders {
				txRef := fmt.Sprintf("order_%d_%s", o.ID, shortuuid.New())
				init, err := s.initiate(ctx, o.Total, currency, customer, txRef)
				if err != nil {
					return err
				}
				if err := tx.SetOrderCheckout(ctx, o.ID, txRef, init.CheckoutURL); err != nil {
					return err
				}
				r.Sessions = append(r.Sessions, Session{OrderID: o.ID, TxRef: txRef, CheckoutURL: init.CheckoutURL, Amount: o.Total})
			}
			res = r
			return nil
		}

		txRef := "batch_" + shortuuid.New()
		if r.ParentOrderID != nil {
			txRef = fmt.Sprintf("parent_%d_%s", *r.ParentOrderID, shortuuid.New())
			if err := tx.SetGroupingTxRef(ctx, *r.ParentOrderID, txRef); err != nil {
				return err
			}
		}

		init, err := s.initiate(ctx, total, currency, customer, txRef)
		if err != nil {
			return err
		}
		for _, o := range orders {
			if err := tx.SetOrderCheckout(ctx, o.ID, txRef, init.CheckoutURL); err != nil {
				return err
			}
		}

		r.TxRef = txRef
		r.CheckoutURL = init.CheckoutURL
		res = r
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, carts, nil
}

func (s *Service) initiate(ctx context.Context, amount int64, currency string, customer gateway.Customer, txRef string) (gateway.InitiateResult, error) {
	init, err := s.gateway.Initiate(ctx, gateway.InitiateRequest{
		Amount:   amount,
		Currency: currency,
		Customer: customer,
		TxRef:    txRef,
	})
	if err != nil {
		s.logger.Warn("payment initialization failed", zap.String("tx_ref", txRef), zap.Error(err))
		return gateway.InitiateResult{}, fmt.Errorf("initiate payment %s: %w", txRef, err)
	}
	return init, nil
}

// splitCart группирует корректные строки корзины по продавцам в порядке возрастания их id.
// Строки с неизвестным товаром или неположительным количеством отбрасываются.
func (s *Service) splitCart(items []model.CartLine, products map[int64]model.Product) ([]vendorCart, int64) {
	byVendor := make(map[int64]*vendorCart)
	var total int64

	for _, item := range items {
		p, ok := products[item.ProductID]
		if !ok || item.Quantity <= 0 {
			s.logger.Debug("skipping cart line",
				zap.Int64("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
			)
			continue
		}

		c, ok := byVendor[p.VendorID]
		if !ok {
			c = &vendorCart{vendorID: p.VendorID}
			byVendor[p.VendorID] = c
		}

		line := model.OrderLine{
			ProductID: p.ID,
			Quantity:  item.Quantity,
			UnitPrice: p.Price,
			Color:     item.Color,
			Size:      item.Size,
		}
		c.lines = append(c.lines, line)
		c.total += line.Total()
		total += line.Total()
	}

	carts := make([]vendorCart, 0, len(byVendor))
	for _, c := range byVendor {
		carts = append(carts, *c)
	}
	slices.SortFunc(carts, func(a, b vendorCart) int {
		return cmp.Compare(a.vendorID, b.vendorID)
	})
	return carts, total
}

func (s *Service) resolveCustomer(ctx context.Context, buyerID int64, override gateway.Customer) gateway.Customer {
	c := override
	if c.Email == "" || c.FirstName == "" || c.LastName == "" || c.Phone == "" {
		u, err := s.repo.UserByID(ctx, buyerID)
		switch {
		case err == nil:
			c.Email = firstNonEmpty(c.Email, u.Email)
			c.FirstName = firstNonEmpty(c.FirstName, u.FirstName)
			c.LastName = firstNonEmpty(c.LastName, u.LastName)
			c.Phone = firstNonEmpty(c.Phone, u.Phone)
		case errors.Is(err, repository.ErrUserNotFound):
		default:
			s.logger.Warn("load buyer profile", zap.Int64("buyer_id", buyerID), zap.Error(err))
		}
	}
	return gateway.NormalizeCustomer(c)
}

func (s *Service) notifyCheckout(res *CheckoutResult, carts []vendorCart) {
	for _, c := range carts {
		s.notify(notify.Message{
			UserID:  c.vendorID,
			Subject: "New order pending payment",
			Body:    fmt.Sprintf("A new order for %s %s is awaiting payment.", model.FormatAmount(c.total), res.Currency),
		})
	}
	if s.opts.AdminEmail != "" {
		s.notify(notify.Message{
			To:      s.opts.AdminEmail,
			Subject: "New pending orders",
			Body:    fmt.Sprintf("%d pending order(s) created.", len(res.OrderIDs)),
		})
	}
}

func productIDs(items []model.CartLine) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if !slices.Contains(ids, item.ProductID) {
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
