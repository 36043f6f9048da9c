package senderLock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultRedisLockTTL        = 30 * time.Second
	DefaultRedisLockRetryDelay = 50 * time.Millisecond
	DefaultRedisLockPrefix     = "txmgr:lock:"
)

// releaseScript deletes the key only if it still holds our token, so a holder whose TTL expired
// cannot release a lock that someone else has since acquired.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// renewScript extends the key only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RedisLockConfig configures a RedisLock.
type RedisLockConfig struct {
	// Prefix is prepended to the lowercase sender address to form the key.
	Prefix string
	// TTL bounds how long a crashed holder can block other processes. A live holder extends
	// the key every TTL/3, so holds may last longer than TTL.
	TTL time.Duration
	// RetryDelay is the pause between acquisition attempts.
	RetryDelay time.Duration
}

// RedisLock is an ISenderLock shared by every process using the same Redis.
type RedisLock struct {
	client redis.UniversalClient
	config RedisLockConfig
	logger *zap.Logger
}

// NewRedisLock creates a RedisLock. Zero config fields take their defaults.
func NewRedisLock(client redis.UniversalClient, cfg RedisLockConfig, logger *zap.Logger) *RedisLock {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisLockPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRedisLockTTL
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRedisLockRetryDelay
	}
	return &RedisLock{client: client, config: cfg, logger: logger}
}

func (l *RedisLock) key(sender common.Address) string {
	return l.config.Prefix + strings.ToLower(sender.Hex())
}

// TryLock makes a single attempt to take the lock. It returns a nil release function and
// no error if someone else holds it.
func (l *RedisLock) TryLock(ctx context.Context, sender common.Address) (func(), error) {
	key := l.key(sender)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.config.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(key, token, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			// the caller's context may already be cancelled; release regardless
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Sugar().Warnw("Failed to release redis lock",
					zap.String("key", key),
					zap.Error(err),
				)
			}
		})
	}, nil
}

// keepAlive extends the key until stop is closed or the key no longer holds token.
func (l *RedisLock) keepAlive(key, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	interval := max(l.config.TTL/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		renewed, err := renewScript.Run(ctx, l.client, []string{key}, token, l.config.TTL.Milliseconds()).Int()
		cancel()
		if err != nil {
			l.logger.Sugar().Warnw("Failed to extend redis lock", zap.String("key", key), zap.Error(err))
			continue
		}
		if renewed == 0 {
			l.logger.Sugar().Errorw("Redis lock expired while held", zap.String("key", key))
			return
		}
	}
}

// Lock retries TryLock until it succeeds or ctx is done.
func (l *RedisLock) Lock(ctx context.Context, sender common.Address) (func(), error) {
	ticker := time.NewTicker(l.config.RetryDelay)
	defer ticker.Stop()

	for {
		release, err := l.TryLock(ctx, sender)
		if err != nil {
			return nil, err
		}
		if release != nil {
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w for %s: %w", ErrLockTimeout, sender, ctx.Err())
		case <-ticker.C:
		}
	}
}
