package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader — заголовок с подписью уведомления шлюза.
const SignatureHeader = "X-Chapa-Signature"

// ErrInvalidSignature возвращается, если подпись уведомления не совпала.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign вычисляет HMAC-SHA256 тела уведомления в шестнадцатеричном виде.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature проверяет подпись уведомления. Пустой секрет отключает проверку.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return nil
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(Sign(secret, body)), []byte(strings.ToLower(signature))) {
		return ErrInvalidSignature
	}
	return nil
}
