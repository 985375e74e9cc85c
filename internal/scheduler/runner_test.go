package scheduler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bionicpro/reports-etl/internal/config"
	"github.com/bionicpro/reports-etl/internal/domain"
	"github.com/bionicpro/reports-etl/internal/invalidator"
	"github.com/bionicpro/reports-etl/internal/loader"
	"github.com/bionicpro/reports-etl/internal/scheduler"
	"github.com/bionicpro/reports-etl/internal/sourceadapters"
)

// fakeReferenceSource stands in for CRMSource so the scheduler tests never
// touch a real database for the reference side of the join.
type fakeReferenceSource struct {
	rows []domain.CustomerProsthesis
	err  error
}

func (f *fakeReferenceSource) ExtractReference(ctx context.Context, since time.Time, fn func(domain.CustomerProsthesis) error) error {
	if f.err != nil {
		return f.err
	}
	for _, r := range f.rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		SchedulePeriod: time.Minute,
		LookbackWindow: 2 * time.Hour,
		BatchSize:      10000,
		RunTimeout:     30 * time.Second,
		Retry: config.RetryConfig{
			Attempts:       2,
			BackoffInitial: 10 * time.Millisecond,
			BackoffFactor:  1,
		},
	}
}

func TestRunner_RunOnce_HappyPathSucceeds(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	telemetryDB, telemetryMock, err := sqlmock.New()
	require.NoError(t, err)
	defer telemetryDB.Close()

	martDB, martMock, err := sqlmock.New()
	require.NoError(t, err)
	defer martDB.Close()

	windowEnd := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	windowStart := windowEnd.Add(-2 * time.Hour)
	hourStart := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	telemetryRows := sqlmock.NewRows([]string{
		"chip_id", "hour_start", "movements_count", "successful_movements",
		"avg_response_time", "min_response_time", "max_response_time",
		"avg_battery_level", "min_battery_level", "max_battery_level",
		"avg_actuator_temp", "max_actuator_temp",
		"error_count", "warning_count", "avg_myo_amplitude", "avg_connection_quality",
		"updated_at",
	}).AddRow("CHIP-1", hourStart, 100, 95, 80.0, 50.0, 120.0, 70.0, 60.0, 80.0, 30.0, 40.0, 1, 0, 0.5, 0.9, hourStart)
	telemetryMock.ExpectQuery("SELECT").WithArgs(windowStart, windowEnd).WillReturnRows(telemetryRows)

	martMock.ExpectBegin()
	martMock.ExpectPrepare("INSERT INTO user_prosthesis_stats")
	martMock.ExpectExec("INSERT INTO user_prosthesis_stats").WillReturnResult(sqlmock.NewResult(1, 1))
	martMock.ExpectCommit()

	var invalidated []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		invalidated = append(invalidated, "hit")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	refSrc := &fakeReferenceSource{rows: []domain.CustomerProsthesis{
		{ExternalID: "ivan.petrov", ChipID: "CHIP-1", LastName: "Petrov", FirstName: "Ivan", ProsthesisID: 10},
	}}
	telemetrySrc := sourceadapters.NewTelemetrySource(telemetryDB)
	factLoader := loader.New(martDB, 10000)
	inv := invalidator.New(config.InvalidatorConfig{
		Endpoint:      server.URL,
		Parallelism:   4,
		BulkThreshold: 1000,
		Timeout:       2 * time.Second,
	}, redisClient, zap.NewNop())

	runner := scheduler.New(testConfig(), zap.NewNop(), refSrc, telemetrySrc, factLoader, inv, redisClient)

	result := runner.RunOnce(context.Background(), windowEnd)
	require.Equal(t, scheduler.StateSuccess, result.State)
	require.Equal(t, 1, result.RowsLoaded)
	require.Equal(t, 1, result.UsersTouched)
	require.Len(t, invalidated, 1)
}

func TestRunner_RunOnce_SkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	windowEnd := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, mr.Set("bionicpro:etl:lock:bionicpro-reports-etl-run", "some-other-run"))

	refSrc := &fakeReferenceSource{}
	inv := invalidator.New(config.InvalidatorConfig{Endpoint: "http://unused.invalid", Parallelism: 1, BulkThreshold: 1, Timeout: time.Second}, redisClient, zap.NewNop())

	runner := scheduler.New(testConfig(), zap.NewNop(), refSrc, nil, nil, inv, redisClient)

	result := runner.RunOnce(context.Background(), windowEnd)
	require.Equal(t, scheduler.StateSkipped, result.State)
}
