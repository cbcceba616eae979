// Package gateway предоставляет клиент внешнего платёжного шлюза (Chapa-совместимый API).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/marketplace-ledger/internal/model"
	"github.com/mmeshcher/marketplace-ledger/internal/validation"
)

const (
	// PlaceholderEmail подставляется, если у покупателя нет корректного адреса.
	PlaceholderEmail = "customer@example.com"

	defaultTimeout = 20 * time.Second
	maxErrorBody   = 2048
)

// ErrTimeout возвращается, если шлюз не ответил вовремя. Результат операции неизвестен.
var ErrTimeout = errors.New("gateway timeout")

// Error описывает отказ шлюза вместе с диагностическим ответом, из которого удалены секреты.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config содержит параметры подключения к шлюзу.
type Config struct {
	BaseURL     string
	SecretKey   string
	ReturnURL   string
	CallbackURL string
	Offline     bool
	Timeout     time.Duration
}

// Customer — контактные данные плательщика.
type Customer struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// InitiateRequest описывает создание платёжной сессии. Сумма в минимальных единицах.
type InitiateRequest struct {
	Amount   int64
	Currency string
	Customer Customer
	TxRef    string
}

// InitiateResult содержит адрес страницы оплаты.
type InitiateResult struct {
	CheckoutURL string
}

// Статусы проверки транзакции.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Verification — результат проверки транзакции на стороне шлюза.
type Verification struct {
	TxRef    string
	Status   string
	Amount   *int64
	Currency string
	Raw      json.RawMessage
}

// Paid сообщает, подтвердил ли шлюз успешную оплату.
func (v Verification) Paid() bool {
	return v.Status == StatusSuccess
}

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	cfg        Config
	secret     string
	httpClient *http.Client
	verifyHTTP *retryablehttp.Client
}

// NewClient создаёт клиента шлюза. Без секретного ключа клиент работает в офлайн-режиме.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL != "" && !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		cfg.BaseURL = "https://" + cfg.BaseURL
	}

	secret := sanitizeSecret(cfg.SecretKey)
	if secret == "" {
		cfg.Offline = true
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	verify := retryablehttp.NewClient()
	verify.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	verify.RetryMax = 2
	verify.RetryWaitMin = 200 * time.Millisecond
	verify.RetryWaitMax = 2 * time.Second
	verify.Logger = nil
	verify.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		cfg:        cfg,
		secret:     secret,
		httpClient: httpClient,
		verifyHTTP: verify,
	}
}

// Offline сообщает, работает ли клиент без обращения к шлюзу.
func (c *Client) Offline() bool {
	return c.cfg.Offline
}

type initiatePayload struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	TxRef       string `json:"tx_ref"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type envelope struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Initiate создаёт платёжную сессию. Повторы не выполняются, чтобы не создать вторую сессию.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	if c.cfg.Offline {
		return InitiateResult{CheckoutURL: offlineReturnURL(c.cfg.ReturnURL, req.TxRef)}, nil
	}

	customer := NormalizeCustomer(req.Customer)
	body, err := json.Marshal(initiatePayload{
		Amount:      model.FormatAmount(req.Amount),
		Currency:    req.Currency,
		Email:       customer.Email,
		FirstName:   customer.FirstName,
		LastName:    customer.LastName,
		PhoneNumber: customer.Phone,
		TxRef:       req.TxRef,
		CallbackURL: c.cfg.CallbackURL,
	})
	if err != nil {
		return InitiateResult{}, fmt.Errorf("marshal initiate payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return InitiateResult{}, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq.Header)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return InitiateResult{}, c.transportError("initiate", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return InitiateResult{}, c.transportError("initiate", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || resp.StatusCode >= http.StatusBadRequest || env.Status != StatusSuccess {
		return InitiateResult{}, &Error{Op: "initiate", StatusCode: resp.StatusCode, Body: c.redact(raw)}
	}

	var data struct {
		CheckoutURL string `json:"checkout_url"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.CheckoutURL == "" {
		return InitiateResult{}, &Error{Op: "initiate", StatusCode: resp.StatusCode, Body: c.redact(raw)}
	}

	return InitiateResult{CheckoutURL: data.CheckoutURL}, nil
}

// Verify запрашивает у шлюза фактический статус транзакции.
// Ответы 2xx и 4xx считаются окончательными. 5xx, 401, 403 и сетевые ошибки возвращаются как ошибка.
func (c *Client) Verify(ctx context.Context, txRef string) (Verification, error) {
	if c.cfg.Offline {
		return Verification{TxRef: txRef, Status: StatusSuccess, Currency: "ETB"}, nil
	}

	endpoint := c.cfg.BaseURL + "/v1/transaction/verify/" + url.PathEscape(txRef)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Verification{}, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req.Header)

	resp, err := c.verifyHTTP.Do(req)
	if err != nil {
		return Verification{}, c.transportError("verify", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Verification{}, c.transportError("verify", err)
	}

	// 401/403 говорят о ключе доступа, а не о транзакции
	if resp.StatusCode >= http.StatusInternalServerError ||
		resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Verification{}, &Error{Op: "verify", StatusCode: resp.StatusCode, Body: c.redact(raw)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Verification{}, &Error{Op: "verify", StatusCode: resp.StatusCode, Body: c.redact(raw)}
	}

	v := Verification{TxRef: txRef, Status: StatusFailed, Raw: json.RawMessage(raw)}

	var data struct {
		Status   string          `json:"status"`
		Amount   json.RawMessage `json:"amount"`
		Currency string          `json:"currency"`
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err == nil {
			v.Currency = data.Currency
			v.Amount = parseRawAmount(data.Amount)
		}
	}

	if strings.EqualFold(env.Status, StatusSuccess) && strings.EqualFold(data.Status, StatusSuccess) {
		v.Status = StatusSuccess
	}

	return v, nil
}

func (c *Client) setHeaders(h http.Header) {
	h.Set("Authorization", "Bearer "+c.secret)
	h.Set("Content-Type", "application/json")
}

func (c *Client) transportError(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return &Error{Op: op, Err: errors.New(c.redact([]byte(err.Error())))}
}

func (c *Client) redact(raw []byte) string {
	s := string(raw)
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	if c.secret != "" {
		s = strings.ReplaceAll(s, c.secret, "[redacted]")
	}
	return s
}

// NormalizeCustomer подставляет значения по умолчанию для контактных данных плательщика.
func NormalizeCustomer(c Customer) Customer {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if !validation.IsValidEmail(email) {
		email = PlaceholderEmail
	}
	first := strings.TrimSpace(c.FirstName)
	if first == "" {
		first = "Customer"
	}
	return Customer{
		Email:     email,
		FirstName: first,
		LastName:  strings.TrimSpace(c.LastName),
		Phone:     strings.TrimSpace(c.Phone),
	}
}

func sanitizeSecret(secret string) string {
	secret = strings.TrimSpace(secret)
	var b strings.Builder
	for _, r := range secret {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func offlineReturnURL(returnURL, txRef string) string {
	if strings.Contains(returnURL, "tx_ref=") {
		return returnURL
	}
	sep := "?"
	if strings.Contains(returnURL, "?") {
		sep = "&"
	}
	return returnURL + sep + "tx_ref=" + url.QueryEscape(txRef)
}

func parseRawAmount(raw json.RawMessage) *int64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	cents, err := model.ParseAmount(s)
	if err != nil {
		return nil
	}
	return &cents
}
