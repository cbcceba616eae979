package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "admin_settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"orders": {"refundWindowDays": 14, "autoCompleteDays": 5},
		"commerce": {"commissionRate": 0.125}
	}`), 0o600))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 14, s.RefundWindowDays())

	days, ok := s.AutoCompleteDays()
	assert.True(t, ok)
	assert.Equal(t, 5, days)

	rate, ok := s.CommissionRate()
	assert.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.125")))
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, 0, s.RefundWindowDays())
	_, ok := s.AutoCompleteDays()
	assert.False(t, ok)
	_, ok = s.CommissionRate()
	assert.False(t, ok)
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"orders":`), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
