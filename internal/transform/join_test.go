package transform_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bionicpro/reports-etl/internal/domain"
	"github.com/bionicpro/reports-etl/internal/transform"
)

func refRow() domain.CustomerProsthesis {
	return domain.CustomerProsthesis{
		CustomerID:   1,
		ExternalID:   "ivan.petrov",
		LastName:     "Petrov",
		FirstName:    "Ivan",
		Email:        "ivan@example.com",
		Region:       domain.RegionRussia,
		Branch:       "moscow",
		ProsthesisID: 10,
		SerialNumber: "SN-1",
		ChipID:       "CHIP-1",
		ModelName:    "ArmPro",
		Category:     domain.CategoryArm,
	}
}

func TestJoin_HappyPath(t *testing.T) {
	j := transform.NewJoin()
	j.AddReference(refRow())

	hour := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	telemetry := domain.HourlyTelemetryAggregate{
		ChipID:              "CHIP-1",
		HourStart:           hour,
		MovementsCount:      100,
		SuccessfulMovements: 95,
		AvgResponseTimeMs:   80,
		AvgBatteryLevel:     70,
		ErrorCount:          1,
	}

	processedAt := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	var got domain.UserProsthesisStat
	err := j.Enrich(telemetry, processedAt, func(s domain.UserProsthesisStat) error {
		got = s
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 95.0, got.SuccessRate)
	require.Equal(t, "Petrov Ivan", got.CustomerName)
	require.Equal(t, 10, got.ReportHour)
	require.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), got.ReportDate)
	require.Equal(t, 0, j.OrphanTelemetry)
	require.Equal(t, 0, j.InvalidMetric)
}

func TestJoin_ZeroMovementsYieldsZeroSuccessRateNotNaN(t *testing.T) {
	j := transform.NewJoin()
	j.AddReference(refRow())

	telemetry := domain.HourlyTelemetryAggregate{
		ChipID:              "CHIP-1",
		HourStart:           time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		MovementsCount:      0,
		SuccessfulMovements: 0,
	}

	var got domain.UserProsthesisStat
	emitted := false
	err := j.Enrich(telemetry, time.Now(), func(s domain.UserProsthesisStat) error {
		got = s
		emitted = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, emitted, "a row with zero movements is still present")
	require.Equal(t, 0.0, got.SuccessRate)
}

func TestJoin_OrphanTelemetryIsDroppedAndCounted(t *testing.T) {
	j := transform.NewJoin()
	j.AddReference(refRow())

	telemetry := domain.HourlyTelemetryAggregate{
		ChipID:    "CHIP-UNKNOWN",
		HourStart: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}

	emitted := false
	err := j.Enrich(telemetry, time.Now(), func(s domain.UserProsthesisStat) error {
		emitted = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, emitted)
	require.Equal(t, 1, j.OrphanTelemetry)
}

func TestJoin_InvalidMetricIsDroppedAndCounted(t *testing.T) {
	j := transform.NewJoin()
	j.AddReference(refRow())

	telemetry := domain.HourlyTelemetryAggregate{
		ChipID:              "CHIP-1",
		HourStart:           time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		MovementsCount:      10,
		SuccessfulMovements: 20, // impossible: exceeds movements_count
		AvgBatteryLevel:     70,
	}

	emitted := false
	err := j.Enrich(telemetry, time.Now(), func(s domain.UserProsthesisStat) error {
		emitted = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, emitted)
	require.Equal(t, 1, j.InvalidMetric)
}

func TestJoin_OutOfRangeBatteryIsInvalidMetric(t *testing.T) {
	j := transform.NewJoin()
	j.AddReference(refRow())

	telemetry := domain.HourlyTelemetryAggregate{
		ChipID:              "CHIP-1",
		HourStart:           time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		MovementsCount:      10,
		SuccessfulMovements: 5,
		AvgBatteryLevel:     150, // out of [0,100]
	}

	emitted := false
	err := j.Enrich(telemetry, time.Now(), func(s domain.UserProsthesisStat) error {
		emitted = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, emitted)
	require.Equal(t, 1, j.InvalidMetric)
}
