package mutation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/merger"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/api"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
)

type fakeRemote struct {
	mu         sync.Mutex
	creates    []string
	updates    []models.UpdateTeamRequest
	deletes    []string
	requestIDs []string
	err        error
}

func (r *fakeRemote) CreateTeam(ctx context.Context, teamID, teamName string) (*models.MutationResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.creates = append(r.creates, teamID)
	return &models.MutationResponse{Success: true, Message: "Team created successfully", TeamID: teamID, TeamName: teamName}, nil
}

func (r *fakeRemote) UpdateTeam(ctx context.Context, req models.UpdateTeamRequest) (*models.MutationResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.updates = append(r.updates, req)
	r.requestIDs = append(r.requestIDs, api.RequestIDFrom(ctx))
	return &models.MutationResponse{Success: true, Message: "Team updated successfully"}, nil
}

func (r *fakeRemote) DeleteTeam(ctx context.Context, teamID string) (*models.MutationResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.deletes = append(r.deletes, teamID)
	return &models.MutationResponse{Success: true, Message: "Team deleted successfully"}, nil
}

type fakeCanonical struct {
	teams     map[string]models.Team
	removed   map[string]time.Time
	anomalies []merger.Anomaly
}

func newFakeCanonical(teams ...models.Team) *fakeCanonical {
	c := &fakeCanonical{teams: map[string]models.Team{}, removed: map[string]time.Time{}}
	for _, t := range teams {
		c.teams[t.TeamID] = t
	}
	return c
}

func (c *fakeCanonical) Team(id string) (models.Team, bool) {
	t, ok := c.teams[id]
	return t, ok
}

func (c *fakeCanonical) RemoveTeam(id string, at time.Time) bool {
	if _, ok := c.teams[id]; !ok {
		return false
	}
	delete(c.teams, id)
	c.removed[id] = at
	return true
}

func (c *fakeCanonical) ReportAnomaly(a merger.Anomaly) {
	c.anomalies = append(c.anomalies, a)
}

type fakeRefresher struct {
	calls int
	err   error
}

func (r *fakeRefresher) ForceRefresh(ctx context.Context) error {
	r.calls++
	return r.err
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCoordinator(remote Remote, canonical Canonical, refresher Refresher) (*Coordinator, *clockwork.FakeClock) {
	clk := clockwork.NewFakeClockAt(t0)
	return New(zap.NewNop(), Config{Clock: clk, Timeout: time.Second}, remote, canonical, refresher), clk
}

func TestCoordinator_UpdateUnknownTeamIsNotFound(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{}
	canonical := newFakeCanonical(models.Team{TeamID: "t1", Score: 5})
	refresher := &fakeRefresher{}
	c, _ := newTestCoordinator(remote, canonical, refresher)

	_, err := c.Update(context.Background(), "missing-team", Delta{Score: 10})
	require.ErrorIs(t, err, ErrNotFound)

	require.Empty(t, remote.updates)
	require.Zero(t, refresher.calls)
	require.Equal(t, int64(5), canonical.teams["t1"].Score)
	require.Len(t, canonical.teams, 1)
}

func TestCoordinator_CreateConfirmedForcesRefresh(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{}
	refresher := &fakeRefresher{}
	c, _ := newTestCoordinator(remote, newFakeCanonical(), refresher)

	res, err := c.Create(context.Background(), " t3 ", "Gamma")
	require.NoError(t, err)
	require.Equal(t, "t3", res.TeamID)
	require.True(t, res.Refreshed)
	require.NotEqual(t, uuid.Nil, res.RequestID)
	require.Equal(t, []string{"t3"}, remote.creates)
	require.Equal(t, 1, refresher.calls)
	require.Len(t, c.Pending(), 1)
}

func TestCoordinator_CreateValidation(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{}
	c, _ := newTestCoordinator(remote, newFakeCanonical(models.Team{TeamID: "t1"}), &fakeRefresher{})

	_, err := c.Create(context.Background(), "", "Gamma")
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = c.Create(context.Background(), "t9", "  ")
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = c.Create(context.Background(), "t1", "Again")
	require.ErrorIs(t, err, ErrConflict)
	require.Empty(t, remote.creates)
}

func TestCoordinator_RemoteErrorsMapToSentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		remote error
		want   error
	}{
		{name: "conflict", remote: fmt.Errorf("wrapped: %w", api.ErrConflict), want: ErrConflict},
		{name: "not found", remote: fmt.Errorf("wrapped: %w", api.ErrNotFound), want: ErrNotFound},
		{name: "bad request", remote: fmt.Errorf("wrapped: %w", api.ErrBadRequest), want: ErrInvalidRequest},
		{name: "success false", remote: fmt.Errorf("wrapped: %w", api.ErrUnsuccessful), want: ErrRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			refresher := &fakeRefresher{}
			c, _ := newTestCoordinator(&fakeRemote{err: tt.remote}, newFakeCanonical(), refresher)

			_, err := c.Create(context.Background(), "t1", "Alpha")
			require.ErrorIs(t, err, tt.want)
			require.Zero(t, refresher.calls)
			require.Empty(t, c.Pending())
		})
	}

	t.Run("transport error passes through", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("connection reset")
		c, _ := newTestCoordinator(&fakeRemote{err: boom}, newFakeCanonical(), &fakeRefresher{})
		_, err := c.Create(context.Background(), "t1", "Alpha")
		require.ErrorIs(t, err, boom)
	})
}

func TestCoordinator_UpdateSendsDeltaUnchanged(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{}
	canonical := newFakeCanonical(models.Team{TeamID: "t1", Score: 5, ValidationsCompleted: 2, QueriesExecuted: 7})
	c, _ := newTestCoordinator(remote, canonical, &fakeRefresher{})

	res, err := c.Update(context.Background(), "t1", Delta{Score: -8, Validations: 1, Queries: -7})
	require.NoError(t, err)
	require.True(t, res.Underflow)
	require.Equal(t, Delta{Score: -8, Validations: 1, Queries: -7}, res.Applied)

	require.Equal(t, []models.UpdateTeamRequest{{TeamID: "t1", ScoreIncrement: -8, ValidationIncrement: 1, QueryIncrement: -7}}, remote.updates)
	require.Len(t, canonical.anomalies, 1)
	require.Equal(t, merger.AnomalyCounterUnderflow, canonical.anomalies[0].Kind)
	require.Equal(t, "score", canonical.anomalies[0].Field)
}

func TestCoordinator_UpdateWithStaleCacheKeepsRelativeDelta(t *testing.T) {
	t.Parallel()

	// The cache still holds 5 while the service already holds 50; the service must see -20.
	remote := &fakeRemote{}
	canonical := newFakeCanonical(models.Team{TeamID: "t1", Score: 5})
	c, _ := newTestCoordinator(remote, canonical, &fakeRefresher{})

	_, err := c.Update(context.Background(), "t1", Delta{Score: -20})
	require.NoError(t, err)
	require.Len(t, remote.updates, 1)
	require.Equal(t, int64(-20), remote.updates[0].ScoreIncrement)
}

func TestCoordinator_UpdateForwardsRequestID(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{}
	c, _ := newTestCoordinator(remote, newFakeCanonical(models.Team{TeamID: "t1"}), &fakeRefresher{})

	res, err := c.Update(context.Background(), "t1", Delta{Score: 1})
	require.NoError(t, err)
	require.Equal(t, []string{res.RequestID.String()}, remote.requestIDs)
}

func TestCoordinator_RejectedUpdateReportsNothing(t *testing.T) {
	t.Parallel()

	canonical := newFakeCanonical(models.Team{TeamID: "t1", Score: 5})
	refresher := &fakeRefresher{}
	c, _ := newTestCoordinator(&fakeRemote{err: fmt.Errorf("update: %w", api.ErrInternalError)}, canonical, refresher)

	_, err := c.Update(context.Background(), "t1", Delta{Score: -20})
	require.ErrorIs(t, err, api.ErrInternalError)
	require.Empty(t, canonical.anomalies)
	require.Zero(t, refresher.calls)
	require.Empty(t, c.Pending())
	require.Equal(t, int64(5), canonical.teams["t1"].Score)
}

func TestCoordinator_DeleteRemovesOnlyAfterAcknowledgment(t *testing.T) {
	t.Parallel()

	t.Run("acknowledged", func(t *testing.T) {
		t.Parallel()
		canonical := newFakeCanonical(models.Team{TeamID: "t1"}, models.Team{TeamID: "t2"})
		c, clk := newTestCoordinator(&fakeRemote{}, canonical, &fakeRefresher{})

		_, err := c.Delete(context.Background(), "t1")
		require.NoError(t, err)
		require.NotContains(t, canonical.teams, "t1")
		require.Equal(t, clk.Now(), canonical.removed["t1"])
		require.Contains(t, canonical.teams, "t2")
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()
		canonical := newFakeCanonical(models.Team{TeamID: "t1"})
		c, _ := newTestCoordinator(&fakeRemote{err: errors.New("timeout")}, canonical, &fakeRefresher{})

		_, err := c.Delete(context.Background(), "t1")
		require.Error(t, err)
		require.Contains(t, canonical.teams, "t1")
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		remote := &fakeRemote{}
		c, _ := newTestCoordinator(remote, newFakeCanonical(), &fakeRefresher{})
		_, err := c.Delete(context.Background(), "t1")
		require.ErrorIs(t, err, ErrNotFound)
		require.Empty(t, remote.deletes)
	})
}

func TestCoordinator_RefreshFailureKeepsMutationPending(t *testing.T) {
	t.Parallel()

	refresher := &fakeRefresher{err: errors.New("unreachable")}
	c, clk := newTestCoordinator(&fakeRemote{}, newFakeCanonical(models.Team{TeamID: "t1"}), refresher)

	res, err := c.Update(context.Background(), "t1", Delta{Score: 3})
	require.NoError(t, err)
	require.False(t, res.Refreshed)
	require.Len(t, c.Pending(), 1)

	// A snapshot fetched before the acknowledgment does not reconcile it.
	require.Zero(t, c.Reconcile(clk.Now().Add(-time.Second)))
	require.Len(t, c.Pending(), 1)

	clk.Advance(time.Minute)
	require.Equal(t, 1, c.Reconcile(clk.Now()))
	require.Empty(t, c.Pending())
}
