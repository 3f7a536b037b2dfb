package fx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePair(t *testing.T, dir, pair, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, pair+".csv"), []byte(content), 0o644))
}

func TestConvert_SameCurrencyIsIdentity(t *testing.T) {
	s := NewStore(t.TempDir())
	got, ok := s.Convert(123.45, "USD", "usd", "2024-01-15")
	require.True(t, ok)
	assert.InDelta(t, 123.45, got, 1e-9)
}

func TestConvert_ClosestDateWins(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "GBPUSD", "date,rate\n2024-01-01,1.20\n2024-01-10,1.30\n2024-02-01,1.40\n")

	s := NewStore(dir)
	got, ok := s.Convert(100, "GBP", "USD", "2024-01-12")
	require.True(t, ok)
	assert.InDelta(t, 130.0, got, 1e-9)
}

func TestConvert_InversePairFallback(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "USDGBP", "date,rate\n2024-01-10,0.80\n")

	s := NewStore(dir)
	got, ok := s.Convert(100, "GBP", "USD", "2024-01-10")
	require.True(t, ok)
	assert.InDelta(t, 125.0, got, 1e-9)
}

func TestConvert_MissingPairFails(t *testing.T) {
	s := NewStore(t.TempDir())
	_, ok := s.Convert(100, "GBP", "JPY", "2024-01-10")
	assert.False(t, ok)
}

func TestConvert_FlexibleColumns(t *testing.T) {
	dir := t.TempDir()
	// Datetime stamps and a close column instead of date/rate.
	writePair(t, dir, "EURUSD", "Datetime,close\n2024-03-01 00:00:00,1.08\n")

	s := NewStore(dir)
	got, ok := s.Convert(50, "EUR", "USD", "2024-03-03")
	require.True(t, ok)
	assert.InDelta(t, 54.0, got, 1e-9)
}

func TestConvert_MalformedRowsSkipped(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "CHFUSD", "date,rate\nnot-a-date,1.10\n2024-01-05,abc\n2024-01-06,1.12\n")

	s := NewStore(dir)
	got, ok := s.Convert(10, "CHF", "USD", "2024-01-06")
	require.True(t, ok)
	assert.InDelta(t, 11.2, got, 1e-9)
}
