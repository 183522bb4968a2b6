package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLoginRateLimited      = errors.New("login rate limited")
	ErrLoginRedisUnavailable = errors.New("login redis unavailable")
)

type LoginConfig struct {
	Enabled     bool
	MaxAttempts int
	Cooldown    time.Duration
}

// LoginLimiter counts failed login attempts per identifier. A successful
// login resets the counter.
type LoginLimiter struct {
	redis  redis.UniversalClient
	config LoginConfig
}

func NewLoginLimiter(redisClient redis.UniversalClient, cfg LoginConfig) *LoginLimiter {
	return &LoginLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *LoginLimiter) Check(ctx context.Context, tenantID, username string) error {
	if l == nil || l.redis == nil || !l.config.Enabled {
		return nil
	}

	count, err := l.redis.Get(ctx, loginKey(tenantID, username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrLoginRedisUnavailable, err)
	}
	if count >= int64(l.config.MaxAttempts) {
		return ErrLoginRateLimited
	}
	return nil
}

func (l *LoginLimiter) IncrementFailure(ctx context.Context, tenantID, username string) error {
	if l == nil || l.redis == nil || !l.config.Enabled {
		return nil
	}

	key := loginKey(tenantID, username)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginRedisUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrLoginRedisUnavailable, err)
		}
	}
	return nil
}

func (l *LoginLimiter) Reset(ctx context.Context, tenantID, username string) error {
	if l == nil || l.redis == nil || !l.config.Enabled {
		return nil
	}

	if err := l.redis.Del(ctx, loginKey(tenantID, username)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLoginRedisUnavailable, err)
	}
	return nil
}

func loginKey(tenantID, username string) string {
	return "cli:" + tenantID + ":" + username
}
