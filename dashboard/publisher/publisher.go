package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/engine"
)

// PubSubClient is the subset of a Redis client needed to publish. Both *redis.Client and
// *redis.ClusterClient satisfy it.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes every snapshot as JSON on a Redis Pub/Sub channel.
type RedisPublisher struct {
	log     *zap.Logger
	client  PubSubClient
	channel string
}

func NewRedisPublisher(log *zap.Logger, client PubSubClient, channel string) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		return nil, errors.New("channel is required")
	}
	return &RedisPublisher{log: log, client: client, channel: channel}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, snap *engine.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %d: %w", snap.Version, err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish snapshot %d on %s: %w", snap.Version, p.channel, err)
	}
	p.log.Debug("published snapshot",
		zap.String("channel", p.channel),
		zap.Uint64("version", snap.Version),
		zap.Int64("receivers", receivers))
	return nil
}
