// Streams support the bulk-invalidation fan-out path: when a run touches
// more users than invalidator.bulk_threshold, a single event replaces
// per-user HTTP calls.
package redisutil

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
)

// PublishJSON serializes data to JSON and XADDs it to stream as a "data"
// field.
func PublishJSON(ctx context.Context, client *redis.Client, stream string, data interface{}) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": string(payload)},
	}).Result()

	return id, err
}
