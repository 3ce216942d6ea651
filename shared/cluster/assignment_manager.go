// shared/cluster/assignment_manager.go
package cluster

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"stathat.com/c/consistent"
	"go.uber.org/zap"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/registry"
)

// ErrEmptyRing is returned by IsResponsible before any member is known.
var ErrEmptyRing = errors.New("consistent hash ring is empty")

// Membership lists the live instances of a service type. *registry.RegistryClient satisfies it.
type Membership interface {
	GetActiveServices(ctx context.Context, serviceType string) (map[string]registry.ServiceInfo, error)
}

// Identity names the local instance. *registry.ServiceRegistrar satisfies it.
type Identity interface {
	GetServiceID() string
	GetServiceType() string
}

// ServiceAssignmentManager helps a service instance determine if it's responsible
// for a given entity (e.g., a team) based on consistent hashing across active instances.
type ServiceAssignmentManager struct {
	log            *zap.Logger
	membership     Membership
	self           Identity
	updateInterval time.Duration
	clock          clockwork.Clock
	consistentHash *consistent.Consistent
	chMux          sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewServiceAssignmentManager creates a manager whose ring initially holds only this instance.
func NewServiceAssignmentManager(
	log *zap.Logger,
	membership Membership,
	self Identity,
	updateInterval time.Duration,
	clock clockwork.Clock,
) *ServiceAssignmentManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())

	sam := &ServiceAssignmentManager{
		log:            log.With(zap.String("service_type", self.GetServiceType()), zap.String("service_id", self.GetServiceID())),
		membership:     membership,
		self:           self,
		updateInterval: updateInterval,
		clock:          clock,
		consistentHash: consistent.New(),
		ctx:            ctx,
		cancel:         cancel,
	}
	sam.consistentHash.Add(self.GetServiceID())

	sam.log.Info("assignment manager initialized", zap.Duration("update_interval", updateInterval))
	return sam
}

// Start refreshes the ring immediately and then on every tick until Stop. It blocks.
func (sam *ServiceAssignmentManager) Start() {
	ticker := sam.clock.NewTicker(sam.updateInterval)
	defer ticker.Stop()

	sam.Refresh()
	for {
		select {
		case <-sam.ctx.Done():
			sam.log.Info("assignment manager stopped")
			return
		case <-ticker.Chan():
			sam.Refresh()
		}
	}
}

// Stop gracefully shuts down the ServiceAssignmentManager.
func (sam *ServiceAssignmentManager) Stop() {
	sam.cancel()
}

// Refresh fetches the active members and rebuilds the ring if the set changed.
// The local instance is always kept on the ring, so a registry lagging behind our
// first heartbeat does not leave entities unowned.
func (sam *ServiceAssignmentManager) Refresh() {
	activeServices, err := sam.membership.GetActiveServices(sam.ctx, sam.self.GetServiceType())
	if err != nil {
		sam.log.Error("failed to get active services", zap.Error(err))
		return
	}

	members := make([]string, 0, len(activeServices)+1)
	for id := range activeServices {
		members = append(members, id)
	}
	if !slices.Contains(members, sam.self.GetServiceID()) {
		members = append(members, sam.self.GetServiceID())
	}
	slices.Sort(members)

	sam.chMux.Lock()
	defer sam.chMux.Unlock()

	currentMembers := sam.consistentHash.Members()
	slices.Sort(currentMembers)
	if slices.Equal(members, currentMembers) {
		return
	}

	ring := consistent.New()
	for _, member := range members {
		ring.Add(member)
	}
	sam.consistentHash = ring
	sam.log.Info("consistent hash ring updated", zap.Strings("members", members))
}

// IsResponsible reports whether this instance owns entityID on the current ring.
func (sam *ServiceAssignmentManager) IsResponsible(entityID string) (bool, error) {
	sam.chMux.RLock()
	defer sam.chMux.RUnlock()

	if len(sam.consistentHash.Members()) == 0 {
		return false, fmt.Errorf("%w for service type %s", ErrEmptyRing, sam.self.GetServiceType())
	}

	owner, err := sam.consistentHash.Get(entityID)
	if err != nil {
		return false, fmt.Errorf("failed to get responsible service for entity '%s': %w", entityID, err)
	}
	return owner == sam.self.GetServiceID(), nil
}
