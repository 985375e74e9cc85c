// Package lock implements the single-instance run lock: an advisory
// distributed key with a TTL equal to the run ceiling. It is the only
// cross-run shared state besides the mart itself.
package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bionicpro/reports-etl/internal/errs"
)

const keyPrefix = "bionicpro:etl:lock:"

// Lock guards a single logical run interval against concurrent execution.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire attempts to take the lock for name, holding it for at most ttl.
// It returns errs.ErrLockContention if another run already holds it.
func Acquire(ctx context.Context, client *redis.Client, name, token string, ttl time.Duration) (*Lock, error) {
	key := keyPrefix + name
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrLockContention
	}
	return &Lock{client: client, key: key, token: token}, nil
}

// releaseScript deletes the key only if it still holds our token, so a run
// that overran its TTL can never release a lock a newer run has acquired.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Release drops the lock if it is still held by this Lock's token.
func (l *Lock) Release(ctx context.Context) error {
	return l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err()
}
