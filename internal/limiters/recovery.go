package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRecoveryRateLimited      = errors.New("recovery rate limited")
	ErrRecoveryRedisUnavailable = errors.New("recovery redis unavailable")
)

type RecoveryConfig struct {
	EnableEmailThrottle bool
	EnableIPThrottle    bool
	Window              time.Duration
	MaxAttempts         int
}

// RecoveryLimiter applies fixed-window throttles to recovery request and
// confirm calls. Request calls are keyed by email, confirm calls by client
// IP only: the submitted code is attacker-controlled and keying a window on
// it would let a caller probe code existence through limiter state.
type RecoveryLimiter struct {
	redis  redis.UniversalClient
	config RecoveryConfig
}

func NewRecoveryLimiter(redisClient redis.UniversalClient, cfg RecoveryConfig) *RecoveryLimiter {
	return &RecoveryLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *RecoveryLimiter) CheckRequest(ctx context.Context, tenantID, email, ip string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if l.config.EnableEmailThrottle && email != "" {
		if err := l.enforceFixedWindow(ctx, "crq:"+tenantID+":"+email); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, "crqip:"+tenantID+":"+ip); err != nil {
			return err
		}
	}
	return nil
}

func (l *RecoveryLimiter) CheckConfirm(ctx context.Context, tenantID, ip string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, "ccfip:"+tenantID+":"+ip); err != nil {
			return err
		}
	}
	return nil
}

func (l *RecoveryLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecoveryRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRecoveryRedisUnavailable, err)
		}
	}

	if count > int64(l.config.MaxAttempts) {
		return ErrRecoveryRateLimited
	}

	return nil
}
