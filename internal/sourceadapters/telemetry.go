package sourceadapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bionicpro/reports-etl/internal/domain"
	"github.com/bionicpro/reports-etl/internal/errs"
)

// TelemetrySource reads hourly telemetry aggregates within a bounded
// window.
type TelemetrySource struct {
	db *sql.DB
}

// NewTelemetrySource wraps an open Telemetry database connection.
func NewTelemetrySource(db *sql.DB) *TelemetrySource {
	return &TelemetrySource{db: db}
}

const telemetryQuery = `
	SELECT
		chip_id,
		hour_start,
		movements_count,
		successful_movements,
		avg_response_time,
		min_response_time,
		max_response_time,
		avg_battery_level,
		min_battery_level,
		max_battery_level,
		avg_actuator_temp,
		max_actuator_temp,
		error_count,
		warning_count,
		avg_myo_amplitude,
		avg_connection_quality,
		updated_at
	FROM v_hourly_telemetry
	WHERE hour_start >= $1 AND hour_start < $2
	ORDER BY chip_id, hour_start
`

// ExtractTelemetry streams all hourly aggregates with hour_start in
// [windowStart, windowEnd), read-committed, one row per call to fn.
func (s *TelemetrySource) ExtractTelemetry(ctx context.Context, windowStart, windowEnd time.Time, fn func(domain.HourlyTelemetryAggregate) error) error {
	rows, err := s.db.QueryContext(ctx, telemetryQuery, windowStart, windowEnd)
	if err != nil {
		return fmt.Errorf("%w: telemetry query failed: %v", errs.ErrSourceUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var row domain.HourlyTelemetryAggregate
		if err := rows.Scan(
			&row.ChipID,
			&row.HourStart,
			&row.MovementsCount,
			&row.SuccessfulMovements,
			&row.AvgResponseTimeMs,
			&row.MinResponseTimeMs,
			&row.MaxResponseTimeMs,
			&row.AvgBatteryLevel,
			&row.MinBatteryLevel,
			&row.MaxBatteryLevel,
			&row.AvgActuatorTempC,
			&row.MaxActuatorTempC,
			&row.ErrorCount,
			&row.WarningCount,
			&row.AvgMyoAmplitude,
			&row.AvgConnectionQuality,
			&row.UpdatedAt,
		); err != nil {
			return fmt.Errorf("%w: telemetry row scan failed: %v", errs.ErrSchemaMismatch, err)
		}

		if err := fn(row); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: telemetry row iteration failed: %v", errs.ErrSourceUnavailable, err)
	}

	return nil
}
