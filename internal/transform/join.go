// Package transform joins reference data and hourly telemetry on chip_id,
// producing denormalized UserProsthesisStat facts. The reference stream is
// buffered into an in-memory chip_id map first, then telemetry is enriched
// against that map in a single pass.
package transform

import (
	"fmt"
	"time"

	"github.com/bionicpro/reports-etl/internal/domain"
	"github.com/bionicpro/reports-etl/internal/errs"
)

// Counters tracks the row-level, non-fatal outcomes of a join run so the
// scheduler can report them without failing the run.
type Counters struct {
	OrphanTelemetry int
	InvalidMetric   int
}

// Join builds the chip_id → reference lookup and enriches telemetry rows
// against it. It is single-use: construct one per run.
type Join struct {
	byChip map[string]domain.CustomerProsthesis
	Counters
}

// NewJoin creates an empty join. Call AddReference for every reference row
// before calling Enrich for telemetry rows.
func NewJoin() *Join {
	return &Join{byChip: make(map[string]domain.CustomerProsthesis)}
}

// AddReference registers a reference row under its chip_id. The caller
// (extract_reference) already guarantees at most one row per chip_id.
func (j *Join) AddReference(row domain.CustomerProsthesis) {
	j.byChip[row.ChipID] = row
}

// Enrich joins one telemetry row against the reference map and emits a
// UserProsthesisStat via fn, or drops the row with a counter increment:
//   - no matching active prosthesis  -> OrphanTelemetry, dropped
//   - a range invariant is violated  -> InvalidMetric, dropped
//
// etlProcessedAt stamps the fact with this run's version for the mart's
// version-wins merge policy.
func (j *Join) Enrich(row domain.HourlyTelemetryAggregate, etlProcessedAt time.Time, fn func(domain.UserProsthesisStat) error) error {
	ref, ok := j.byChip[row.ChipID]
	if !ok {
		j.OrphanTelemetry++
		return nil
	}

	if err := validateMetrics(row); err != nil {
		j.InvalidMetric++
		return nil
	}

	hour := row.HourStart.UTC()
	reportDate := time.Date(hour.Year(), hour.Month(), hour.Day(), 0, 0, 0, 0, time.UTC)

	stat := domain.UserProsthesisStat{
		ExternalID:   ref.ExternalID,
		ProsthesisID: ref.ProsthesisID,
		ChipID:       ref.ChipID,
		ReportDate:   reportDate,
		ReportHour:   hour.Hour(),

		CustomerName:     ref.CustomerName(),
		CustomerEmail:    ref.Email,
		CustomerRegion:   ref.Region,
		CustomerBranch:   ref.Branch,
		ProsthesisModel:  ref.ModelName,
		ProsthesisCat:    ref.Category,
		ProsthesisSerial: ref.SerialNumber,

		MovementsCount:      row.MovementsCount,
		SuccessfulMovements: row.SuccessfulMovements,
		SuccessRate:         domain.SuccessRate(row.SuccessfulMovements, row.MovementsCount),

		AvgResponseTimeMs: row.AvgResponseTimeMs,
		MinResponseTimeMs: row.MinResponseTimeMs,
		MaxResponseTimeMs: row.MaxResponseTimeMs,

		AvgBatteryLevel: row.AvgBatteryLevel,
		MinBatteryLevel: row.MinBatteryLevel,
		MaxBatteryLevel: row.MaxBatteryLevel,

		AvgActuatorTempC: row.AvgActuatorTempC,
		MaxActuatorTempC: row.MaxActuatorTempC,

		ErrorCount:           row.ErrorCount,
		WarningCount:         row.WarningCount,
		AvgConnectionQuality: row.AvgConnectionQuality,
		AvgMyoAmplitude:      row.AvgMyoAmplitude,

		SourceUpdatedAt: row.UpdatedAt,
		EtlProcessedAt:  etlProcessedAt,
	}

	return fn(stat)
}

// validateMetrics enforces the numeric range invariants:
// movements_count >= successful_movements >= 0, battery in [0,100],
// connection_quality in [0,100].
func validateMetrics(row domain.HourlyTelemetryAggregate) error {
	if row.SuccessfulMovements < 0 || row.MovementsCount < row.SuccessfulMovements {
		return fmt.Errorf("%w: successful_movements=%d exceeds movements_count=%d", errs.ErrInvalidMetric, row.SuccessfulMovements, row.MovementsCount)
	}
	if row.AvgBatteryLevel < 0 || row.AvgBatteryLevel > 100 {
		return fmt.Errorf("%w: avg_battery_level=%v out of range", errs.ErrInvalidMetric, row.AvgBatteryLevel)
	}
	if row.AvgConnectionQuality < 0 || row.AvgConnectionQuality > 100 {
		return fmt.Errorf("%w: avg_connection_quality=%v out of range", errs.ErrInvalidMetric, row.AvgConnectionQuality)
	}
	return nil
}
