package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dreamweaver-server/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker is a cross-instance world lock (SET NX PX with an owner token).
// Queued callers poll, so ordering between instances is best effort; combine
// it with a Manager in a Chain to keep FIFO order inside one instance.
type RedisLocker struct {
	client       redis.UniversalClient
	policy       Policy
	ttl          time.Duration
	pollInterval time.Duration
	keyPrefix    string
	logger       *zap.Logger
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a RedisLocker. ttl bounds how long a crashed holder blocks the world.
func NewRedisLocker(client redis.UniversalClient, policy Policy, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if policy == "" {
		policy = DefaultPolicy
	}
	return &RedisLocker{
		client:       client,
		policy:       policy,
		ttl:          ttl,
		pollInterval: 50 * time.Millisecond,
		keyPrefix:    "dreamweaver:world_lock:",
		logger:       logger.Named("RedisLocker"),
	}
}

func (l *RedisLocker) key(worldID string) string {
	return l.keyPrefix + worldID
}

func (l *RedisLocker) Acquire(ctx context.Context, worldID string) (func(), error) {
	token := uuid.NewString()
	key := l.key(worldID)
	start := time.Now()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("redis lock %s: %w", worldID, err)
		}
		if ok {
			observeWait(l.policy, start)
			return l.hold(worldID, key, token), nil
		}
		if l.policy == PolicyReject {
			lockRejections.Inc()
			return nil, fmt.Errorf("%w: %s", models.ErrWorldBusy, worldID)
		}

		timer := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// hold keeps the key alive until the returned release is called.
func (l *RedisLocker) hold(worldID, key, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
				res, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
				cancel()
				if err != nil || res == 0 {
					l.logger.Warn("Failed to refresh world lock", zap.String("worldID", worldID), zap.Error(err))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { l.release(worldID, key, token, stop, done) })
	}
}

func (l *RedisLocker) release(worldID, key, token string, stop, done chan struct{}) {
	close(stop)
	<-done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Error("Failed to release world lock", zap.String("worldID", worldID), zap.Error(err))
	}
}
