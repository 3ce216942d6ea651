// shared/redis/client.go
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// connectTimeout bounds how long a starting service waits for the cluster to answer.
const connectTimeout = 30 * time.Second

// NewRedisClusterClient creates and returns a new configured Redis Cluster client.
// The cluster is pinged with exponential backoff until it answers, ctx ends or
// connectTimeout elapses.
func NewRedisClusterClient(ctx context.Context, logger *zap.Logger, addrs []string, password string) (*redis.ClusterClient, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no Redis addresses provided")
	}

	rdb := redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:        addrs,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  6 * time.Second,
		PoolSize:     10,
	})

	attempt := 0
	_, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		pong, err := rdb.Ping(pingCtx).Result()
		if err != nil {
			logger.Warn("Redis cluster not ready, retrying", zap.Int("attempt", attempt), zap.Error(err))
		}
		return pong, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(connectTimeout))
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis cluster at %v: %w", addrs, err)
	}
	logger.Info("connected to Redis cluster", zap.Strings("addrs", addrs))
	return rdb, nil
}
