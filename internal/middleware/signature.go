package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-ledger/internal/gateway"
)

const maxWebhookBody = 1 << 20

// SignatureMiddleware проверяет HMAC-подпись уведомлений платёжного шлюза.
type SignatureMiddleware struct {
	secret string
	logger *zap.Logger
}

// NewSignatureMiddleware создаёт проверку подписи. Пустой секрет отключает проверку.
func NewSignatureMiddleware(secret string, logger *zap.Logger) *SignatureMiddleware {
	if secret == "" {
		logger.Warn("webhook secret is not configured, signature verification is disabled")
	}
	return &SignatureMiddleware{secret: secret, logger: logger}
}

// Middleware читает тело запроса, проверяет подпись и возвращает тело обработчику.
func (s *SignatureMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		_ = r.Body.Close()
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		if err := gateway.VerifySignature(s.secret, body, r.Header.Get(gateway.SignatureHeader)); err != nil {
			if errors.Is(err, gateway.ErrInvalidSignature) {
				s.logger.Warn("rejected webhook with invalid signature", zap.String("remote_addr", r.RemoteAddr))
			}
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		next.ServeHTTP(w, r)
	})
}
