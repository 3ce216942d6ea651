// leaderboard/store/activity_store.go
package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	redisu "github.com/Ftotnem/LEADERBOARD-SERVICES/shared/redis"
)

// ZSetClient is the subset of Redis commands the activity store uses. *redis.ClusterClient
// satisfies it.
type ZSetClient interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZCount(ctx context.Context, key, min, max string) *redis.IntCmd
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// ActivityStore keeps one sorted set of query events per team, scored by the unix
// milliseconds at which the query ran.
type ActivityStore struct {
	log    *zap.Logger
	client ZSetClient
}

// NewActivityStore creates a new ActivityStore instance.
func NewActivityStore(log *zap.Logger, client ZSetClient) *ActivityStore {
	return &ActivityStore{log: log, client: client}
}

// RecordQueries adds count query events for teamID at the given time.
func (as *ActivityStore) RecordQueries(ctx context.Context, teamID string, count int64, at time.Time) error {
	if count <= 0 {
		return nil
	}
	score := float64(at.UnixMilli())
	members := make([]redis.Z, count)
	for i := range members {
		members[i] = redis.Z{Score: score, Member: uuid.NewString()}
	}
	if err := as.client.ZAdd(ctx, redisu.TeamQueriesKey(teamID), members...).Err(); err != nil {
		return fmt.Errorf("failed to record %d queries for team %s: %w", count, teamID, err)
	}
	return nil
}

// CountSince returns the number of query events for teamID at or after since.
func (as *ActivityStore) CountSince(ctx context.Context, teamID string, since time.Time) (int64, error) {
	n, err := as.client.ZCount(ctx, redisu.TeamQueriesKey(teamID), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count queries for team %s: %w", teamID, err)
	}
	return n, nil
}

// Prune removes query events for teamID strictly older than before.
func (as *ActivityStore) Prune(ctx context.Context, teamID string, before time.Time) (int64, error) {
	n, err := as.client.ZRemRangeByScore(ctx, redisu.TeamQueriesKey(teamID), "-inf", "("+strconv.FormatInt(before.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to prune queries for team %s: %w", teamID, err)
	}
	return n, nil
}

// DeleteTeam drops the whole query history of teamID.
func (as *ActivityStore) DeleteTeam(ctx context.Context, teamID string) error {
	if err := as.client.Del(ctx, redisu.TeamQueriesKey(teamID)).Err(); err != nil {
		return fmt.Errorf("failed to delete query history for team %s: %w", teamID, err)
	}
	return nil
}
