package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/api"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *LeaderboardServiceClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewLeaderboardClient(srv.URL+"/", srv.Client())
}

func TestLeaderboardClient_GetLeaderboard(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/leaderboard", r.URL.Path)
		require.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"success":true,"total_teams":1,"leaderboard":[{"team_id":"t1","team_name":"Alpha","score":30}]}`))
	})

	resp, err := c.GetLeaderboard(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, resp.Leaderboard, 1)
	require.Equal(t, "t1", resp.Leaderboard[0].TeamID)
	require.Equal(t, int64(30), *resp.Leaderboard[0].Score)
	require.Nil(t, resp.Leaderboard[0].ValidationsCompleted)
}

func TestLeaderboardClient_SuccessFalseIsAnError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"db down"}`))
	})

	_, err := c.CreateTeam(context.Background(), "t1", "Alpha")
	require.ErrorIs(t, err, api.ErrUnsuccessful)
	require.Contains(t, err.Error(), "db down")

	_, err = c.GetStats(context.Background())
	require.ErrorIs(t, err, api.ErrUnsuccessful)
}

func TestLeaderboardClient_MutationErrorsMapToSentinels(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/leaderboard/create-team":
			api.WriteConflict(w, "Team already exists")
		case r.Method == http.MethodPost && r.URL.Path == "/leaderboard/update":
			var req models.UpdateTeamRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, int64(3), req.ScoreIncrement)
			api.WriteNotFound(w, "Team not found")
		case r.Method == http.MethodDelete && r.URL.Path == "/leaderboard/team/a b":
			_ = api.WriteJSON(w, http.StatusOK, models.MutationResponse{Success: true, Message: "deleted"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	_, err := c.CreateTeam(context.Background(), "t1", "Alpha")
	require.ErrorIs(t, err, api.ErrConflict)

	_, err = c.UpdateTeam(context.Background(), models.UpdateTeamRequest{TeamID: "t1", ScoreIncrement: 3})
	require.ErrorIs(t, err, api.ErrNotFound)

	resp, err := c.DeleteTeam(context.Background(), "a b")
	require.NoError(t, err)
	require.Equal(t, "deleted", resp.Message)
}

func TestLeaderboardClient_IsUnavailable(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		api.WriteServiceUnavailable(w, "starting")
	})
	_, err := c.GetActivity(context.Background())
	require.True(t, IsUnavailable(err))

	require.False(t, IsUnavailable(nil))
	require.False(t, IsUnavailable(errors.Join(api.ErrUnsuccessful)))
	require.True(t, IsUnavailable(context.DeadlineExceeded))
}
