// Package loader batch-inserts UserProsthesisStat rows into the
// append-only mart with idempotent overwrite semantics via
// version-wins-by-etl_processed_at.
package loader

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bionicpro/reports-etl/internal/domain"
	"github.com/bionicpro/reports-etl/internal/errs"
)

// DefaultBatchSize is the number of rows inserted per transaction.
const DefaultBatchSize = 10000

const insertStmt = `
	INSERT INTO user_prosthesis_stats (
		external_id, prosthesis_id, chip_id, report_date, report_hour,
		customer_name, customer_email, customer_region, customer_branch,
		prosthesis_model, prosthesis_category, prosthesis_serial,
		movements_count, successful_movements, success_rate,
		avg_response_time_ms, min_response_time_ms, max_response_time_ms,
		avg_battery_level, min_battery_level, max_battery_level,
		avg_actuator_temp_c, max_actuator_temp_c,
		error_count, warning_count, avg_connection_quality, avg_myo_amplitude,
		source_updated_at, etl_processed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Loader writes fact batches to the mart.
type Loader struct {
	db        *sql.DB
	batchSize int
}

// New creates a Loader with the given batch size; a non-positive size
// falls back to DefaultBatchSize.
func New(db *sql.DB, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Loader{db: db, batchSize: batchSize}
}

// LoadResult reports what a Load call wrote.
type LoadResult struct {
	InsertedRows    int
	DistinctUserIDs []string
}

// Load inserts rows in batches of the loader's configured size. Rows are
// inserted as-is with no pre-aggregation; a whole batch either commits or
// fails together, so a retried run never observes a partially-committed
// batch.
func (l *Loader) Load(ctx context.Context, rows []domain.UserProsthesisStat) (LoadResult, error) {
	result := LoadResult{}
	distinct := make(map[string]bool)

	for start := 0; start < len(rows); start += l.batchSize {
		end := start + l.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		if err := l.loadBatch(ctx, batch); err != nil {
			return LoadResult{}, fmt.Errorf("%w: batch [%d:%d] failed: %v", errs.ErrTargetUnavailable, start, end, err)
		}

		for _, r := range batch {
			distinct[r.ExternalID] = true
		}
		result.InsertedRows += len(batch)
	}

	for id := range distinct {
		result.DistinctUserIDs = append(result.DistinctUserIDs, id)
	}

	return result, nil
}

// loadBatch commits an entire batch atomically: on any row failure the
// transaction rolls back and the caller retries the whole batch.
func (l *Loader) loadBatch(ctx context.Context, batch []domain.UserProsthesisStat) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertStmt)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		_, err := stmt.ExecContext(ctx,
			r.ExternalID, r.ProsthesisID, r.ChipID, r.ReportDate, r.ReportHour,
			r.CustomerName, r.CustomerEmail, string(r.CustomerRegion), r.CustomerBranch,
			r.ProsthesisModel, string(r.ProsthesisCat), r.ProsthesisSerial,
			r.MovementsCount, r.SuccessfulMovements, r.SuccessRate,
			r.AvgResponseTimeMs, r.MinResponseTimeMs, r.MaxResponseTimeMs,
			r.AvgBatteryLevel, r.MinBatteryLevel, r.MaxBatteryLevel,
			r.AvgActuatorTempC, r.MaxActuatorTempC,
			r.ErrorCount, r.WarningCount, r.AvgConnectionQuality, r.AvgMyoAmplitude,
			r.SourceUpdatedAt, r.EtlProcessedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert row for %s: %w", r.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	return nil
}
