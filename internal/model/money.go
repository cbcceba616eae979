package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ToAmount переводит сумму в минимальных единицах в десятичное значение для ответов API.
func ToAmount(cents int64) float64 {
	v, _ := decimal.New(cents, -2).Float64()
	return v
}

// FromAmount переводит десятичную сумму из запроса в минимальные единицы с округлением до копейки.
func FromAmount(amount float64) (int64, error) {
	d := decimal.NewFromFloat(amount)
	if d.Exponent() < -2 && !d.Equal(d.Round(2)) {
		d = d.Round(2)
	}
	cents := d.Mul(hundred)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("%w: amount %v", ErrInvalidInput, amount)
	}
	return cents.IntPart(), nil
}

// ParseAmount разбирает сумму в текстовом виде ("250.00") в минимальные единицы.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d.Round(2).Mul(hundred).IntPart(), nil
}

// FormatAmount форматирует сумму в минимальных единицах с двумя знаками после запятой.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
