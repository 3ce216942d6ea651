package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/config"
)

// ServiceRegistrar handles the self-registration and heartbeating of a service instance.
type ServiceRegistrar struct {
	log         *zap.Logger
	redisClient HashClient
	serviceType string
	cfg         *config.CommonConfig
	clock       clockwork.Clock
	serviceID   string
	stopChan    chan struct{}
	doneChan    chan struct{}
}

// NewServiceRegistrar creates a new ServiceRegistrar with a freshly generated instance ID.
func NewServiceRegistrar(log *zap.Logger, redisClient HashClient, serviceType string, cfg *config.CommonConfig, clock clockwork.Clock) *ServiceRegistrar {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	serviceID := fmt.Sprintf("%s-%s", serviceType, uuid.New().String())

	return &ServiceRegistrar{
		log:         log.With(zap.String("service_type", serviceType), zap.String("service_id", serviceID)),
		redisClient: redisClient,
		serviceType: serviceType,
		cfg:         cfg,
		clock:       clock,
		serviceID:   serviceID,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
}

// Start begins registration and heartbeating in a background goroutine.
func (sr *ServiceRegistrar) Start() {
	sr.log.Info("starting service registrar",
		zap.String("ip", sr.cfg.ServiceIP), zap.Int("port", sr.cfg.ServicePort))
	go sr.run()
}

// Stop signals the registrar to stop, waits for it, and deregisters the instance.
func (sr *ServiceRegistrar) Stop() {
	close(sr.stopChan)
	<-sr.doneChan

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sr.redisClient.HDel(ctx, hashKey(sr.serviceType), sr.serviceID).Err(); err != nil {
		sr.log.Error("failed to remove service from registry on shutdown", zap.Error(err))
		return
	}
	sr.log.Info("service removed from registry")
}

func (sr *ServiceRegistrar) run() {
	defer close(sr.doneChan)

	ticker := sr.clock.NewTicker(sr.cfg.HeartbeatInterval)
	defer ticker.Stop()

	var cleanup <-chan time.Time
	if sr.cfg.RegistryCleanupInterval > 0 {
		cleanupTicker := sr.clock.NewTicker(sr.cfg.RegistryCleanupInterval)
		defer cleanupTicker.Stop()
		cleanup = cleanupTicker.Chan()
	}

	sr.registerService()

	for {
		select {
		case <-ticker.Chan():
			sr.registerService()
		case <-cleanup:
			sr.performCleanup()
		case <-sr.stopChan:
			return
		}
	}
}

// registerService performs the actual registration/heartbeat in Redis.
func (sr *ServiceRegistrar) registerService() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	infoJSON, err := json.Marshal(ServiceInfo{
		ServiceID:   sr.serviceID,
		ServiceType: sr.serviceType,
		IP:          sr.cfg.ServiceIP,
		Port:        sr.cfg.ServicePort,
		LastSeen:    sr.clock.Now().UnixMilli(),
		Metadata:    map[string]string{"version": "1.0"},
	})
	if err != nil {
		sr.log.Error("failed to marshal service info", zap.Error(err))
		return
	}

	if err := sr.redisClient.HSet(ctx, hashKey(sr.serviceType), sr.serviceID, infoJSON).Err(); err != nil {
		sr.log.Error("failed to heartbeat service to Redis", zap.Error(err))
		return
	}
	sr.log.Debug("heartbeat sent")
}

// performCleanup removes entries whose heartbeat is older than the TTL, and corrupt ones.
func (sr *ServiceRegistrar) performCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := hashKey(sr.serviceType)
	results, err := sr.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		sr.log.Error("registry cleanup failed to list services", zap.Error(err))
		return
	}

	now := sr.clock.Now()
	for instanceID, infoJSON := range results {
		var info ServiceInfo
		if err := json.Unmarshal([]byte(infoJSON), &info); err != nil {
			sr.log.Warn("deleting corrupt registry entry", zap.String("instance_id", instanceID), zap.Error(err))
			if delErr := sr.redisClient.HDel(ctx, key, instanceID).Err(); delErr != nil {
				sr.log.Error("failed to delete corrupt registry entry", zap.String("instance_id", instanceID), zap.Error(delErr))
			}
			continue
		}

		if now.Sub(time.UnixMilli(info.LastSeen)) > sr.cfg.HeartbeatTTL {
			if delErr := sr.redisClient.HDel(ctx, key, instanceID).Err(); delErr != nil {
				sr.log.Error("failed to delete stale service", zap.String("instance_id", instanceID), zap.Error(delErr))
				continue
			}
			sr.log.Info("removed stale service from registry", zap.String("instance_id", instanceID))
		}
	}
}

// GetServiceID returns the unique ID assigned to this service instance.
func (sr *ServiceRegistrar) GetServiceID() string {
	return sr.serviceID
}

// GetServiceType returns the type of this service instance.
func (sr *ServiceRegistrar) GetServiceType() string {
	return sr.serviceType
}
