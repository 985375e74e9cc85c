// Package scheduler drives the pipeline on a fixed cadence: a
// ticker-triggered run under a single-instance lock, with per-task retries
// and backoff and a whole-run timeout wrapping the
// extract/transform/load/invalidate sequence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bionicpro/reports-etl/internal/config"
	"github.com/bionicpro/reports-etl/internal/domain"
	"github.com/bionicpro/reports-etl/internal/errs"
	"github.com/bionicpro/reports-etl/internal/invalidator"
	"github.com/bionicpro/reports-etl/internal/loader"
	"github.com/bionicpro/reports-etl/internal/platform/lock"
	"github.com/bionicpro/reports-etl/internal/sourceadapters"
	"github.com/bionicpro/reports-etl/internal/transform"

	"github.com/go-redis/redis/v8"
)

// State is a run's position in the Pending -> Running -> terminal state
// machine.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFailed  State = "failed"
	StateSkipped State = "skipped"
)

const lockName = "bionicpro-reports-etl-run"

// RunResult summarizes one scheduled instant's outcome, for logging and
// metrics.
type RunResult struct {
	RunID           string
	State           State
	WindowStart     time.Time
	WindowEnd       time.Time
	RowsLoaded      int
	UsersTouched    int
	OrphanTelemetry int
	InvalidMetric   int
	Err             error
}

// Runner owns one scheduled pipeline and its dependencies.
type Runner struct {
	cfg          *config.Config
	logger       *zap.Logger
	referenceSrc sourceadapters.ReferenceSource
	telemetrySrc *sourceadapters.TelemetrySource
	loader       *loader.Loader
	invalidator  *invalidator.Invalidator
	redisClient  *redis.Client
	onResult     func(RunResult)
}

// OnResult registers a callback invoked after every scheduled instant,
// used to feed the admin HTTP /status endpoint without coupling the
// scheduler to it directly.
func (r *Runner) OnResult(fn func(RunResult)) {
	r.onResult = fn
}

// New builds a Runner from its wired dependencies. Which ReferenceSource
// implementation is passed in is decided by cfg.SourceMode at wiring time.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	referenceSrc sourceadapters.ReferenceSource,
	telemetrySrc *sourceadapters.TelemetrySource,
	factLoader *loader.Loader,
	inv *invalidator.Invalidator,
	redisClient *redis.Client,
) *Runner {
	return &Runner{
		cfg:          cfg,
		logger:       logger,
		referenceSrc: referenceSrc,
		telemetrySrc: telemetrySrc,
		loader:       factLoader,
		invalidator:  inv,
		redisClient:  redisClient,
	}
}

// Start runs the pipeline on cfg.SchedulePeriod until ctx is cancelled,
// firing once immediately before the first tick.
func (r *Runner) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.SchedulePeriod)
	defer ticker.Stop()

	r.logger.Info("starting scheduler",
		zap.Duration("schedule_period", r.cfg.SchedulePeriod),
		zap.Duration("lookback_window", r.cfg.LookbackWindow),
	)

	r.runAndReport(ctx, time.Now().UTC())

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			r.runAndReport(ctx, now.UTC())
		}
	}
}

func (r *Runner) runAndReport(ctx context.Context, at time.Time) {
	result := r.RunOnce(ctx, at)
	r.logResult(result)
	if r.onResult != nil {
		r.onResult(result)
	}
}

// RunOnce executes a single scheduled instant end-to-end: acquire the
// single-instance lock, compute the window, run the DAG, and release the
// lock. Catch-up is disabled: only the current instant is ever attempted.
func (r *Runner) RunOnce(ctx context.Context, triggeredAt time.Time) RunResult {
	runID := uuid.New().String()
	windowEnd := triggeredAt.Truncate(time.Minute)
	windowStart := windowEnd.Add(-r.cfg.LookbackWindow)

	result := RunResult{RunID: runID, State: StateRunning, WindowStart: windowStart, WindowEnd: windowEnd}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout)
	defer cancel()

	token := runID
	heldLock, err := lock.Acquire(runCtx, r.redisClient, lockName, token, r.cfg.RunTimeout)
	if err != nil {
		result.Err = err
		if errors.Is(err, errs.ErrLockContention) {
			result.State = StateSkipped
		} else {
			result.State = StateFailed
		}
		return result
	}
	defer func() {
		if err := heldLock.Release(context.Background()); err != nil {
			r.logger.Warn("failed to release run lock", zap.String("run_id", runID), zap.Error(err))
		}
	}()

	if err := r.runDAG(runCtx, runID, windowStart, windowEnd, &result); err != nil {
		result.Err = err
		if runCtx.Err() != nil {
			result.State = StateFailed
			result.Err = fmt.Errorf("%w: %v", errs.ErrRunTimeout, err)
		} else {
			result.State = StateFailed
		}
		return result
	}

	result.State = StateSuccess
	return result
}

// runDAG executes extract_reference ∥ extract_telemetry -> transform ->
// load -> invalidate.
func (r *Runner) runDAG(ctx context.Context, runID string, windowStart, windowEnd time.Time, result *RunResult) error {
	join := transform.NewJoin()
	var telemetryRows []domain.HourlyTelemetryAggregate

	extractCtx, cancelExtract := context.WithTimeout(ctx, 10*time.Minute)
	defer cancelExtract()

	group, gctx := errgroup.WithContext(extractCtx)

	group.Go(func() error {
		return withRetry(gctx, r.cfg.Retry, func() error {
			return r.referenceSrc.ExtractReference(gctx, windowStart, func(row domain.CustomerProsthesis) error {
				join.AddReference(row)
				return nil
			})
		})
	})

	group.Go(func() error {
		return withRetry(gctx, r.cfg.Retry, func() error {
			var rows []domain.HourlyTelemetryAggregate
			err := r.telemetrySrc.ExtractTelemetry(gctx, windowStart, windowEnd, func(row domain.HourlyTelemetryAggregate) error {
				rows = append(rows, row)
				return nil
			})
			if err == nil {
				telemetryRows = rows
			}
			return err
		})
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("extract failed: %w", err)
	}

	transformCtx, cancelTransform := context.WithTimeout(ctx, 5*time.Minute)
	defer cancelTransform()

	processedAt := time.Now().UTC()
	var facts []domain.UserProsthesisStat
	for _, tRow := range telemetryRows {
		select {
		case <-transformCtx.Done():
			return fmt.Errorf("transform stage: %w", transformCtx.Err())
		default:
		}
		if err := join.Enrich(tRow, processedAt, func(stat domain.UserProsthesisStat) error {
			facts = append(facts, stat)
			return nil
		}); err != nil {
			return fmt.Errorf("transform stage: %w", err)
		}
	}
	result.OrphanTelemetry = join.OrphanTelemetry
	result.InvalidMetric = join.InvalidMetric

	loadCtx, cancelLoad := context.WithTimeout(ctx, 15*time.Minute)
	defer cancelLoad()

	var loadResult loader.LoadResult
	err := withRetry(loadCtx, r.cfg.Retry, func() error {
		lr, err := r.loader.Load(loadCtx, facts)
		if err != nil {
			return err
		}
		loadResult = lr
		return nil
	})
	if err != nil {
		return fmt.Errorf("load failed: %w", err)
	}
	result.RowsLoaded = loadResult.InsertedRows
	result.UsersTouched = len(loadResult.DistinctUserIDs)

	// Invalidation happens strictly after the load commits and is
	// best-effort: it never fails the run.
	invResult := r.invalidator.Invalidate(ctx, runID, loadResult.DistinctUserIDs)
	if invResult.Failed > 0 {
		r.logger.Warn("some cache invalidations failed",
			zap.String("run_id", runID),
			zap.Int("failed", invResult.Failed),
			zap.Int("attempted", invResult.Attempted),
		)
	}

	return nil
}

// withRetry retries fn using cfg's attempt count and backoff. A fatal
// error (ErrSchemaMismatch) is not retried.
func withRetry(ctx context.Context, cfg config.RetryConfig, fn func() error) error {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := cfg.BackoffInitial

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if isFatal(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
	}
	return lastErr
}

func isFatal(err error) bool {
	return errors.Is(err, errs.ErrSchemaMismatch)
}

func (r *Runner) logResult(result RunResult) {
	fields := []zap.Field{
		zap.String("run_id", result.RunID),
		zap.String("state", string(result.State)),
		zap.Time("window_start", result.WindowStart),
		zap.Time("window_end", result.WindowEnd),
		zap.Int("rows_loaded", result.RowsLoaded),
		zap.Int("users_touched", result.UsersTouched),
		zap.Int("orphan_telemetry", result.OrphanTelemetry),
		zap.Int("invalid_metric", result.InvalidMetric),
	}
	switch result.State {
	case StateSuccess:
		r.logger.Info("run completed", fields...)
	case StateSkipped:
		r.logger.Info("run skipped: lock contention", fields...)
	default:
		fields = append(fields, zap.Error(result.Err))
		r.logger.Error("run failed", fields...)
	}
}
