package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/registry"
)

type staticIdentity struct{ id string }

func (s staticIdentity) GetServiceID() string   { return s.id }
func (s staticIdentity) GetServiceType() string { return registry.LeaderboardServiceType }

type fakeMembership struct {
	mu      sync.Mutex
	members []string
	err     error
}

func (f *fakeMembership) set(members ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members = members
}

func (f *fakeMembership) GetActiveServices(context.Context, string) (map[string]registry.ServiceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]registry.ServiceInfo, len(f.members))
	for _, m := range f.members {
		out[m] = registry.ServiceInfo{ServiceID: m}
	}
	return out, nil
}

func TestAssignment_SingleInstanceOwnsEverything(t *testing.T) {
	t.Parallel()

	sam := NewServiceAssignmentManager(zap.NewNop(), &fakeMembership{}, staticIdentity{"a"}, 0, nil)
	for i := 0; i < 20; i++ {
		ok, err := sam.IsResponsible(fmt.Sprintf("team-%d", i))
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestAssignment_EntitiesSplitAcrossInstances(t *testing.T) {
	t.Parallel()

	mem := &fakeMembership{}
	mem.set("a", "b", "c")
	managers := map[string]*ServiceAssignmentManager{}
	for _, id := range []string{"a", "b", "c"} {
		sam := NewServiceAssignmentManager(zap.NewNop(), mem, staticIdentity{id}, 0, nil)
		sam.Refresh()
		managers[id] = sam
	}

	for i := 0; i < 50; i++ {
		entity := fmt.Sprintf("team-%d", i)
		owners := 0
		for _, sam := range managers {
			ok, err := sam.IsResponsible(entity)
			require.NoError(t, err)
			if ok {
				owners++
			}
		}
		require.Equal(t, 1, owners, "entity %s", entity)
	}
}

func TestAssignment_RefreshFailureKeepsRing(t *testing.T) {
	t.Parallel()

	mem := &fakeMembership{}
	mem.set("a", "b")
	sam := NewServiceAssignmentManager(zap.NewNop(), mem, staticIdentity{"a"}, 0, nil)
	sam.Refresh()
	before := sam.consistentHash.Members()

	mem.err = errors.New("redis down")
	sam.Refresh()
	require.ElementsMatch(t, before, sam.consistentHash.Members())
}

func TestAssignment_SelfAlwaysOnRing(t *testing.T) {
	t.Parallel()

	mem := &fakeMembership{}
	mem.set("b")
	sam := NewServiceAssignmentManager(zap.NewNop(), mem, staticIdentity{"a"}, 0, nil)
	sam.Refresh()
	require.ElementsMatch(t, []string{"a", "b"}, sam.consistentHash.Members())
}
