// Package settings читает административные настройки маркетплейса из JSON-файла.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/shopspring/decimal"
)

type document struct {
	Orders struct {
		RefundWindowDays *int `json:"refundWindowDays"`
		AutoCompleteDays *int `json:"autoCompleteDays"`
	} `json:"orders"`
	Commerce struct {
		CommissionRate *decimal.Decimal `json:"commissionRate"`
	} `json:"commerce"`
}

// FileStore — настройки, прочитанные из файла. Значения только для чтения.
type FileStore struct {
	doc document
}

// Load читает настройки из path. Отсутствующий файл даёт пустые настройки.
func Load(path string) (*FileStore, error) {
	s := &FileStore{}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if len(data) == 0 {
		return s, nil
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("decode settings %s: %w", path, err)
	}
	return s, nil
}

// RefundWindowDays возвращает окно возврата в днях; 0 — окно не задано.
func (s *FileStore) RefundWindowDays() int {
	if s == nil || s.doc.Orders.RefundWindowDays == nil {
		return 0
	}
	return *s.doc.Orders.RefundWindowDays
}

// AutoCompleteDays возвращает срок автозавершения заказов, если он задан.
func (s *FileStore) AutoCompleteDays() (int, bool) {
	if s == nil || s.doc.Orders.AutoCompleteDays == nil || *s.doc.Orders.AutoCompleteDays <= 0 {
		return 0, false
	}
	return *s.doc.Orders.AutoCompleteDays, true
}

// CommissionRate возвращает ставку комиссии, если она задана.
func (s *FileStore) CommissionRate() (decimal.Decimal, bool) {
	if s == nil || s.doc.Commerce.CommissionRate == nil {
		return decimal.Decimal{}, false
	}
	return *s.doc.Commerce.CommissionRate, true
}
