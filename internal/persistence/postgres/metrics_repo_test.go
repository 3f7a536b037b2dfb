package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valuerun/valuerun/internal/domain"
)

func metricRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"symbol", "metric_id", "value", "as_of", "currency", "inputs", "computed_at",
	})
}

func TestMetricsUpsert_PersistsInputs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMetricsRepo(db, 5*time.Second)

	computedAt := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO metric_values").
		WithArgs("AAPL", "working_capital", 9_593_000_000.0, "2023-12-30", "USD",
			pq.Array([]string{"AssetsCurrent", "LiabilitiesCurrent"}), computedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), domain.MetricValue{
		Symbol:     "AAPL",
		MetricID:   "working_capital",
		Value:      9_593_000_000,
		AsOf:       "2023-12-30",
		Currency:   "USD",
		Inputs:     []string{"AssetsCurrent", "LiabilitiesCurrent"},
		ComputedAt: computedAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricsFetch_RoundTripsInputs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMetricsRepo(db, 5*time.Second)

	computedAt := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	rows := metricRows().AddRow(
		"AAPL", "working_capital", 9_593_000_000.0, "2023-12-30", "USD",
		`{AssetsCurrent,LiabilitiesCurrent}`, computedAt)

	mock.ExpectQuery("SELECT (.+) FROM metric_values").
		WithArgs("AAPL", "working_capital").
		WillReturnRows(rows)

	mv, err := repo.Fetch(context.Background(), "AAPL", "working_capital")
	require.NoError(t, err)
	require.NotNil(t, mv)
	assert.InDelta(t, 9_593_000_000.0, mv.Value, 1)
	assert.Equal(t, []string{"AssetsCurrent", "LiabilitiesCurrent"}, mv.Inputs)
	assert.Equal(t, computedAt, mv.ComputedAt)
}

func TestMetricsFetch_AbsenceIsNilNotError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMetricsRepo(db, 5*time.Second)

	mock.ExpectQuery("SELECT (.+) FROM metric_values").
		WithArgs("AAPL", "eps_ttm").
		WillReturnRows(metricRows())

	mv, err := repo.Fetch(context.Background(), "AAPL", "eps_ttm")
	require.NoError(t, err)
	assert.Nil(t, mv)
}
