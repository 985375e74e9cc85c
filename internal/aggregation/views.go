// Package aggregation implements the read-only aggregation views:
// DailyReport and UserSummary, computed on demand from the mart rather
// than materialized.
package aggregation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bionicpro/reports-etl/internal/domain"
	"github.com/bionicpro/reports-etl/internal/errs"
)

// Views serves the mart's aggregation queries.
type Views struct {
	db *sql.DB
}

// New creates a Views reader over the given mart connection.
func New(db *sql.DB) *Views {
	return &Views{db: db}
}

// daily_success_rate is not clamped to [0,100] separately: the join
// stage's movements_count >= successful_movements >= 0 invariant already
// keeps the ratio in range.
const dailyReportQuery = `
	SELECT
		report_date,
		sum(movements_count) AS daily_movements,
		sum(successful_movements) AS daily_successful,
		if(sum(movements_count) > 0,
		   round(sum(successful_movements) / sum(movements_count) * 100, 2),
		   0) AS daily_success_rate,
		round(avg(avg_response_time_ms), 2) AS avg_response_time_ms,
		round(avg(avg_battery_level), 1) AS avg_battery_percent,
		round(avg(avg_actuator_temp_c), 1) AS avg_temp_celsius,
		round(avg(avg_connection_quality), 1) AS avg_connection_quality,
		min(min_battery_level) AS min_battery_percent,
		max(max_actuator_temp_c) AS max_temp_celsius,
		sum(error_count) AS daily_errors,
		count(DISTINCT report_hour) AS active_hours
	FROM user_prosthesis_stats FINAL
	WHERE external_id = $1 AND report_date = $2
	GROUP BY report_date
`

// DailyReport computes the single-day rollup for a user. Returns (nil,
// nil) when the user has no facts on that date.
func (v *Views) DailyReport(ctx context.Context, externalID string, reportDate time.Time) (*domain.DailyReport, error) {
	row := v.db.QueryRowContext(ctx, dailyReportQuery, externalID, reportDate)

	var r domain.DailyReport
	r.ExternalID = externalID
	err := row.Scan(
		&r.ReportDate, &r.DailyMovements, &r.DailySuccessful, &r.DailySuccessRate,
		&r.AvgResponseTimeMs, &r.AvgBatteryPercent, &r.AvgTempCelsius, &r.AvgConnectionQuality,
		&r.MinBatteryPercent, &r.MaxTempCelsius, &r.DailyErrors, &r.ActiveHours,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: daily report query failed: %v", errs.ErrTargetUnavailable, err)
	}
	return &r, nil
}

const dailyReportRangeQuery = `
	SELECT
		external_id,
		report_date,
		sum(movements_count) AS daily_movements,
		sum(successful_movements) AS daily_successful,
		if(sum(movements_count) > 0,
		   round(sum(successful_movements) / sum(movements_count) * 100, 2),
		   0) AS daily_success_rate,
		round(avg(avg_response_time_ms), 2) AS avg_response_time_ms,
		round(avg(avg_battery_level), 1) AS avg_battery_percent,
		round(avg(avg_actuator_temp_c), 1) AS avg_temp_celsius,
		round(avg(avg_connection_quality), 1) AS avg_connection_quality,
		min(min_battery_level) AS min_battery_percent,
		max(max_actuator_temp_c) AS max_temp_celsius,
		sum(error_count) AS daily_errors,
		count(DISTINCT report_hour) AS active_hours
	FROM user_prosthesis_stats FINAL
	WHERE report_date >= $1 AND report_date <= $2
	GROUP BY external_id, report_date
	ORDER BY external_id, report_date
`

// DailyReportsRange computes the DailyReport rollup for every user with
// activity in [from, to], for operator exports.
func (v *Views) DailyReportsRange(ctx context.Context, from, to time.Time) ([]domain.DailyReport, error) {
	rows, err := v.db.QueryContext(ctx, dailyReportRangeQuery, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: daily report range query failed: %v", errs.ErrTargetUnavailable, err)
	}
	defer rows.Close()

	var reports []domain.DailyReport
	for rows.Next() {
		var r domain.DailyReport
		if err := rows.Scan(
			&r.ExternalID, &r.ReportDate, &r.DailyMovements, &r.DailySuccessful, &r.DailySuccessRate,
			&r.AvgResponseTimeMs, &r.AvgBatteryPercent, &r.AvgTempCelsius, &r.AvgConnectionQuality,
			&r.MinBatteryPercent, &r.MaxTempCelsius, &r.DailyErrors, &r.ActiveHours,
		); err != nil {
			return nil, fmt.Errorf("%w: daily report range scan failed: %v", errs.ErrTargetUnavailable, err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: daily report range iteration failed: %v", errs.ErrTargetUnavailable, err)
	}
	return reports, nil
}

const userSummaryQuery = `
	SELECT
		min(report_date) AS first_activity_date,
		max(report_date) AS last_activity_date,
		dateDiff('day', min(report_date), max(report_date)) + 1 AS total_days,
		count(DISTINCT report_date) AS active_days,
		sum(movements_count) AS total_movements,
		sum(successful_movements) AS total_successful,
		if(sum(movements_count) > 0,
		   round(sum(successful_movements) / sum(movements_count) * 100, 2),
		   0) AS overall_success_rate,
		round(avg(avg_response_time_ms), 2) AS avg_response_time_ms,
		round(avg(avg_battery_level), 1) AS avg_battery_percent,
		sum(error_count) AS total_errors,
		round(sum(error_count) / count(DISTINCT report_date), 2) AS avg_errors_per_day
	FROM user_prosthesis_stats FINAL
	WHERE external_id = $1
`

// UserSummary computes the lifetime rollup for a user. Returns (nil, nil)
// if the user has no facts.
func (v *Views) UserSummary(ctx context.Context, externalID string) (*domain.UserSummary, error) {
	row := v.db.QueryRowContext(ctx, userSummaryQuery, externalID)

	var s domain.UserSummary
	s.ExternalID = externalID
	err := row.Scan(
		&s.FirstActivityDate, &s.LastActivityDate, &s.TotalDays, &s.ActiveDays,
		&s.TotalMovements, &s.TotalSuccessful, &s.OverallSuccessRate,
		&s.AvgResponseTimeMs, &s.AvgBatteryPercent, &s.TotalErrors, &s.AvgErrorsPerDay,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: user summary query failed: %v", errs.ErrTargetUnavailable, err)
	}
	// An aggregate without GROUP BY yields one row even over no facts.
	if s.ActiveDays == 0 {
		return nil, nil
	}
	return &s, nil
}
