// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
)

const maxEmailLength = 254

// IsValidEmail выполняет облегчённую проверку адреса электронной почты.
func IsValidEmail(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" || len(v) > maxEmailLength {
		return false
	}
	return strings.Contains(v, "@") && strings.Contains(v, ".") && !strings.Contains(v, " ")
}

// NormalizeCurrency возвращает поддерживаемый код валюты; неизвестные значения заменяются на ETB.
func NormalizeCurrency(value string) string {
	switch c := strings.ToUpper(strings.TrimSpace(value)); c {
	case "ETB", "USD":
		return c
	default:
		return "ETB"
	}
}

// IsValidTxRef проверяет, что ссылка на транзакцию состоит из букв, цифр, '_' и '-'.
func IsValidTxRef(ref string) bool {
	if ref == "" || len(ref) > 100 {
		return false
	}

	for _, ch := range ref {
		if ch > unicode.MaxASCII {
			return false
		}
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' && ch != '-' {
			return false
		}
	}

	return true
}
