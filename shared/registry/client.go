package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// RegistryClient reads the registry, so any service can discover instances of another.
type RegistryClient struct {
	log            *zap.Logger
	redisClient    HashClient
	serviceTimeout time.Duration
	clock          clockwork.Clock
}

// NewRegistryClient takes an already initialized Redis client.
func NewRegistryClient(log *zap.Logger, redisClient HashClient, serviceTimeout time.Duration, clock clockwork.Clock) *RegistryClient {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RegistryClient{
		log:            log,
		redisClient:    redisClient,
		serviceTimeout: serviceTimeout,
		clock:          clock,
	}
}

// GetActiveServices retrieves the active instances of serviceType keyed by instance ID.
// Instances whose last heartbeat is older than the service timeout are left out.
func (rc *RegistryClient) GetActiveServices(ctx context.Context, serviceType string) (map[string]ServiceInfo, error) {
	results, err := rc.redisClient.HGetAll(ctx, hashKey(serviceType)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get all services of type %s from Redis: %w", serviceType, err)
	}

	activeServices := make(map[string]ServiceInfo)
	now := rc.clock.Now()

	for instanceID, infoJSON := range results {
		var info ServiceInfo
		if err := json.Unmarshal([]byte(infoJSON), &info); err != nil {
			rc.log.Warn("skipping malformed registry entry",
				zap.String("instance_id", instanceID), zap.String("service_type", serviceType), zap.Error(err))
			continue
		}
		if now.Sub(time.UnixMilli(info.LastSeen)) <= rc.serviceTimeout {
			activeServices[instanceID] = info
		}
	}
	return activeServices, nil
}
