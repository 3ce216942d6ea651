// shared/registry/types.go
package registry

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// ServiceInfo represents the details of a registered service instance.
// This information is stored in Redis and used for service discovery.
type ServiceInfo struct {
	ServiceID   string            `json:"serviceId"`   // Unique ID for this specific instance
	ServiceType string            `json:"serviceType"` // Type of service (e.g., "leaderboard-service", "dashboard-service")
	IP          string            `json:"ip"`
	Port        int               `json:"port"`
	LastSeen    int64             `json:"last_seen"` // Unix milliseconds of the last heartbeat
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HashClient is the subset of Redis commands the registry uses. *redis.ClusterClient and
// *redis.Client both satisfy it.
type HashClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
}
