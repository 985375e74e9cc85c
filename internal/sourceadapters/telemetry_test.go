package sourceadapters_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/bionicpro/reports-etl/internal/domain"
	"github.com/bionicpro/reports-etl/internal/sourceadapters"
)

func TestTelemetrySource_ExtractTelemetry_ReturnsWindowRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	windowStart := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	hourStart := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"chip_id", "hour_start", "movements_count", "successful_movements",
		"avg_response_time", "min_response_time", "max_response_time",
		"avg_battery_level", "min_battery_level", "max_battery_level",
		"avg_actuator_temp", "max_actuator_temp",
		"error_count", "warning_count", "avg_myo_amplitude", "avg_connection_quality",
		"updated_at",
	}).AddRow("CHIP-1", hourStart, 100, 95, 80.0, 50.0, 120.0, 70.0, 60.0, 80.0, 30.0, 40.0, 1, 0, 0.5, 0.9, hourStart)

	mock.ExpectQuery("SELECT").WithArgs(windowStart, windowEnd).WillReturnRows(rows)

	src := sourceadapters.NewTelemetrySource(db)

	var got []domain.HourlyTelemetryAggregate
	err = src.ExtractTelemetry(context.Background(), windowStart, windowEnd, func(r domain.HourlyTelemetryAggregate) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "CHIP-1", got[0].ChipID)
	require.Equal(t, int64(100), got[0].MovementsCount)
}
