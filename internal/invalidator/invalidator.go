// Package invalidator tells the downstream reporting service, for each user
// touched by a run, that its cached views are stale. Small touched-sets fan
// out as individual HTTP calls; large ones publish a single bulk event to
// Redis Streams instead.
package invalidator

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bionicpro/reports-etl/internal/config"
	"github.com/bionicpro/reports-etl/internal/platform/redisutil"
)

// Invalidator fans a run's touched users out to the reporting service's
// cache-invalidation endpoint.
type Invalidator struct {
	http         *resty.Client
	redis        *redis.Client
	logger       *zap.Logger
	endpoint     string
	parallelism  int64
	bulkThreshold int
	streamName   string
}

// New builds an Invalidator from run configuration.
func New(cfg config.InvalidatorConfig, redisClient *redis.Client, logger *zap.Logger) *Invalidator {
	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetHeader("Content-Type", "application/json")

	parallelism := int64(cfg.Parallelism)
	if parallelism <= 0 {
		parallelism = 1
	}

	return &Invalidator{
		http:          httpClient,
		redis:         redisClient,
		logger:        logger,
		endpoint:      cfg.Endpoint,
		parallelism:   parallelism,
		bulkThreshold: cfg.BulkThreshold,
		streamName:    cfg.BulkStreamName,
	}
}

// invalidateScopes lists the cached views a per-user invalidation clears.
var invalidateScopes = []string{"list", "summary", "daily"}

// invalidateRequest is the per-user payload posted to the reporting
// service, carrying an idempotency token so a retried invalidation call
// never double-fires side effects downstream.
type invalidateRequest struct {
	UserID           string   `json:"user_id"`
	InvalidateScopes []string `json:"invalidate_scopes"`
	IdempotencyToken string   `json:"idempotency_token"`
}

// bulkInvalidateEvent is published to Redis Streams when the touched-user
// count exceeds the bulk threshold, so the reporting service can drop its
// entire cache generation rather than process one message per user.
type bulkInvalidateEvent struct {
	RunID       string   `json:"run_id"`
	ExternalIDs []string `json:"external_ids"`
	Count       int      `json:"count"`
}

// Result reports what an Invalidate call did. It never fails the run, so
// callers log Result rather than branching on it.
type Result struct {
	Mode          string // "per_user" or "bulk"
	Attempted     int
	Succeeded     int
	Failed        int
	FailedUserIDs []string
}

// Invalidate fans the touched-user set out to the reporting service. Above
// bulkThreshold it falls back to a single bulk stream event; below it, it
// issues one bounded-parallel HTTP call per user. It is best-effort: a
// failed invalidation is logged and counted but never returned as an error,
// since a stale cache view self-heals on the reporting service's own TTL.
func (inv *Invalidator) Invalidate(ctx context.Context, runID string, externalIDs []string) Result {
	if len(externalIDs) == 0 {
		return Result{Mode: "per_user"}
	}

	if len(externalIDs) > inv.bulkThreshold {
		return inv.invalidateBulk(ctx, runID, externalIDs)
	}
	return inv.invalidatePerUser(ctx, runID, externalIDs)
}

func (inv *Invalidator) invalidatePerUser(ctx context.Context, runID string, externalIDs []string) Result {
	sem := semaphore.NewWeighted(inv.parallelism)
	result := Result{Mode: "per_user", Attempted: len(externalIDs)}

	type outcome struct {
		externalID string
		err        error
	}
	outcomes := make(chan outcome, len(externalIDs))

	for _, id := range externalIDs {
		id := id
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes <- outcome{id, err}
			continue
		}
		go func() {
			defer sem.Release(1)
			err := inv.invalidateOne(ctx, runID, id)
			outcomes <- outcome{id, err}
		}()
	}

	for range externalIDs {
		o := <-outcomes
		if o.err != nil {
			result.Failed++
			result.FailedUserIDs = append(result.FailedUserIDs, o.externalID)
			inv.logger.Warn("cache invalidation failed",
				zap.String("external_id", o.externalID),
				zap.Error(o.err),
			)
			continue
		}
		result.Succeeded++
	}

	return result
}

func (inv *Invalidator) invalidateOne(ctx context.Context, runID, externalID string) error {
	req := invalidateRequest{
		UserID:           externalID,
		InvalidateScopes: invalidateScopes,
		IdempotencyToken: fmt.Sprintf("%s:%s", runID, externalID),
	}

	resp, err := inv.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(inv.endpoint)
	if err != nil {
		return fmt.Errorf("invalidation request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("invalidation endpoint returned %s", resp.Status())
	}
	return nil
}

func (inv *Invalidator) invalidateBulk(ctx context.Context, runID string, externalIDs []string) Result {
	event := bulkInvalidateEvent{
		RunID:       runID,
		ExternalIDs: externalIDs,
		Count:       len(externalIDs),
	}

	id, err := redisutil.PublishJSON(ctx, inv.redis, inv.streamName, event)
	if err != nil {
		inv.logger.Warn("bulk cache invalidation publish failed",
			zap.Int("count", len(externalIDs)),
			zap.Error(err),
		)
		return Result{Mode: "bulk", Attempted: len(externalIDs), Failed: len(externalIDs), FailedUserIDs: externalIDs}
	}

	inv.logger.Info("published bulk cache invalidation event",
		zap.String("stream_id", id),
		zap.Int("count", len(externalIDs)),
	)
	return Result{Mode: "bulk", Attempted: len(externalIDs), Succeeded: len(externalIDs)}
}
