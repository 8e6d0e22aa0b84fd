package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/config"
)

// Redis wraps the go-redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to Redis using the provided configuration.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis")
	}

	return &Redis{Client: client}
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// AcquireApprovalGuard takes a short-lived single-flight lock for an
// approval decision on the given ticket. Double-clicked email links race
// here instead of at the database row. Returns true when this caller won
// the lock; true with no error when redis is unavailable, so the guard
// degrades to the in-transaction pending re-check alone.
func (r *Redis) AcquireApprovalGuard(ctx context.Context, ticketID int64, ttl time.Duration) (bool, error) {
	if r == nil || r.Client == nil {
		return true, nil
	}
	ok, err := r.Client.SetNX(ctx, approvalGuardKey(ticketID), 1, ttl).Result()
	if err != nil {
		return true, err
	}
	return ok, nil
}

// ReleaseApprovalGuard drops the lock so a caller whose decision write
// failed can retry without being mistaken for a duplicate click.
func (r *Redis) ReleaseApprovalGuard(ctx context.Context, ticketID int64) error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, approvalGuardKey(ticketID)).Err()
}

func approvalGuardKey(ticketID int64) string {
	return fmt.Sprintf("approval:consumed:%d", ticketID)
}
