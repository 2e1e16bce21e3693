package repo

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Chative-core-poc-v1/stateflow/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/stateflow/internal/core/error"
	logx "github.com/Chative-core-poc-v1/stateflow/pkg/logger"
)

var (
	// Takes the lease when free or already held by the same owner.
	// Returns 1 when held by owner afterwards, 0 otherwise.
	leaseAcquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	redis.call('PSETEX', KEYS[1], ARGV[2], ARGV[1])
	return 1
end
if cur == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

	// Deletes the lease only when owner holds it.
	leaseReleaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
)

func (r *RedisSessionRepository) TryAcquireLease(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("lease ttl must be > 0")
	}
	n, err := leaseAcquireScript.Run(ctx, r.rdb, []string{r.key(sessionID, "lease")}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to acquire session lease")
		return false, errx.WrapRedis(err)
	}
	return n == 1, nil
}

// ReleaseLease is idempotent: a missing or foreign lease is left alone.
func (r *RedisSessionRepository) ReleaseLease(ctx context.Context, sessionID, owner string) error {
	if err := leaseReleaseScript.Run(ctx, r.rdb, []string{r.key(sessionID, "lease")}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to release session lease")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ model.SessionLeaser = (*RedisSessionRepository)(nil)
