package aggregation_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/bionicpro/reports-etl/internal/aggregation"
)

func TestViews_DailyReport_ReturnsRollup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reportDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"report_date", "daily_movements", "daily_successful", "daily_success_rate",
		"avg_response_time_ms", "avg_battery_percent", "avg_temp_celsius", "avg_connection_quality",
		"min_battery_percent", "max_temp_celsius", "daily_errors", "active_hours",
	}).AddRow(reportDate, 800, 760, 95.0, 82.5, 68.0, 32.0, 91.0, 55.0, 39.0, 3, 8)

	mock.ExpectQuery("SELECT").WithArgs("ivan.petrov", reportDate).WillReturnRows(rows)

	v := aggregation.New(db)
	report, err := v.DailyReport(context.Background(), "ivan.petrov", reportDate)
	require.NoError(t, err)
	require.NotNil(t, report)
	require.Equal(t, int64(800), report.DailyMovements)
	require.Equal(t, 95.0, report.DailySuccessRate)
	require.Equal(t, 8, report.ActiveHours)
}

func TestViews_DailyReport_ReturnsNilWhenNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reportDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT").WithArgs("nobody", reportDate).WillReturnRows(sqlmock.NewRows([]string{
		"report_date", "daily_movements", "daily_successful", "daily_success_rate",
		"avg_response_time_ms", "avg_battery_percent", "avg_temp_celsius", "avg_connection_quality",
		"min_battery_percent", "max_temp_celsius", "daily_errors", "active_hours",
	}))

	v := aggregation.New(db)
	report, err := v.DailyReport(context.Background(), "nobody", reportDate)
	require.NoError(t, err)
	require.Nil(t, report)
}

func TestViews_UserSummary_ReturnsLifetimeRollup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"first_activity_date", "last_activity_date", "total_days", "active_days",
		"total_movements", "total_successful", "overall_success_rate",
		"avg_response_time_ms", "avg_battery_percent", "total_errors", "avg_errors_per_day",
	}).AddRow(first, last, 15, 12, 9600, 9120, 95.0, 81.0, 69.0, 24, 2.0)

	mock.ExpectQuery("SELECT").WithArgs("ivan.petrov").WillReturnRows(rows)

	v := aggregation.New(db)
	summary, err := v.UserSummary(context.Background(), "ivan.petrov")
	require.NoError(t, err)
	require.NotNil(t, summary)
	require.Equal(t, 12, summary.ActiveDays)
	require.Equal(t, 95.0, summary.OverallSuccessRate)
}
