// Package errs defines the run's error taxonomy as sentinel values instead
// of exceptions. Task-level errors are wrapped over these with fmt.Errorf
// and inspected at the Scheduler boundary with errors.Is to decide retry
// vs. fail.
package errs

import "errors"

var (
	// ErrSourceUnavailable means a source DB/network call failed. The
	// owning task is retried; the run fails after retries are exhausted.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSchemaMismatch means a source is missing an expected column or
	// type. Fatal: the run fails immediately, no retry.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrInvalidMetric means a row violated a range invariant (e.g.
	// avg_battery_level outside [0,100]). The row is dropped; the run
	// continues.
	ErrInvalidMetric = errors.New("invalid metric")

	// ErrOrphanTelemetry means a telemetry row's chip_id has no matching
	// active prosthesis. The row is dropped; the run continues.
	ErrOrphanTelemetry = errors.New("orphan telemetry")

	// ErrTargetUnavailable means the mart is unreachable or rejected a
	// batch. The load task is retried; the run fails after retries are
	// exhausted.
	ErrTargetUnavailable = errors.New("target unavailable")

	// ErrInvalidationFailed means an invalidation HTTP call failed. Logged
	// only; never fails the run.
	ErrInvalidationFailed = errors.New("invalidation failed")

	// ErrRunTimeout means the whole-run ceiling was exceeded.
	ErrRunTimeout = errors.New("run timeout")

	// ErrLockContention means a previous run still holds the
	// single-instance lock. The run is marked Skipped, not retried.
	ErrLockContention = errors.New("lock contention")
)
