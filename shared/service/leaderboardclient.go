// shared/service/leaderboardclient.go
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/api"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
)

// LeaderboardServiceClient is a client for the leaderboard data service.
type LeaderboardServiceClient struct {
	apiClient *api.Client
}

// NewLeaderboardClient creates a client for the leaderboard data service at baseURL.
// A nil httpClient uses api.NewDefaultHTTPClient.
func NewLeaderboardClient(baseURL string, httpClient *http.Client) *LeaderboardServiceClient {
	return &LeaderboardServiceClient{
		apiClient: api.NewClient(strings.TrimRight(baseURL, "/"), httpClient),
	}
}

// unsuccessful turns a 2xx body reporting success=false into an error.
func unsuccessful(op string, success bool, msg string) error {
	if success {
		return nil
	}
	if msg == "" {
		msg = "no error message"
	}
	return fmt.Errorf("%w: %s: %s", api.ErrUnsuccessful, op, msg)
}

// GetLeaderboard fetches the score ordered team list. limit 0 requests every team and
// a negative limit uses the server default.
func (c *LeaderboardServiceClient) GetLeaderboard(ctx context.Context, limit int) (*models.LeaderboardResponse, error) {
	path := "/leaderboard"
	if limit >= 0 {
		path += "?" + url.Values{"limit": []string{strconv.Itoa(limit)}}.Encode()
	}
	resp := &models.LeaderboardResponse{}
	if err := c.apiClient.Get(ctx, path, resp); err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	if err := unsuccessful("get leaderboard", resp.Success, ""); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetStats fetches the aggregate statistics.
func (c *LeaderboardServiceClient) GetStats(ctx context.Context) (*models.StatsSummary, error) {
	resp := &models.StatsResponse{}
	if err := c.apiClient.Get(ctx, "/leaderboard/stats", resp); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	if err := unsuccessful("get stats", resp.Success, ""); err != nil {
		return nil, err
	}
	if resp.Stats == nil {
		return nil, fmt.Errorf("%w: get stats: response without stats", api.ErrUnsuccessful)
	}
	return resp.Stats, nil
}

// GetRankings fetches the server side category rankings, keyed by category name.
func (c *LeaderboardServiceClient) GetRankings(ctx context.Context) (map[string][]models.Team, error) {
	resp := &models.RankingsResponse{}
	if err := c.apiClient.Get(ctx, "/leaderboard/rankings", resp); err != nil {
		return nil, fmt.Errorf("failed to get rankings: %w", err)
	}
	if err := unsuccessful("get rankings", resp.Success, ""); err != nil {
		return nil, err
	}
	return resp.Rankings, nil
}

// GetActivity fetches the recent activity feed.
func (c *LeaderboardServiceClient) GetActivity(ctx context.Context) (*models.ActivityResponse, error) {
	resp := &models.ActivityResponse{}
	if err := c.apiClient.Get(ctx, "/leaderboard/activity", resp); err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	if err := unsuccessful("get activity", resp.Success, ""); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetTeam fetches a single team. Returns an error wrapping api.ErrNotFound for unknown ids.
func (c *LeaderboardServiceClient) GetTeam(ctx context.Context, teamID string) (*models.TeamDetailResponse, error) {
	resp := &models.TeamDetailResponse{}
	if err := c.apiClient.Get(ctx, "/leaderboard/team/"+url.PathEscape(teamID), resp); err != nil {
		return nil, fmt.Errorf("failed to get team %s: %w", teamID, err)
	}
	if err := unsuccessful("get team", resp.Success, ""); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateTeam registers a new team. A duplicate id yields an error wrapping api.ErrConflict.
func (c *LeaderboardServiceClient) CreateTeam(ctx context.Context, teamID, teamName string) (*models.MutationResponse, error) {
	resp := &models.MutationResponse{}
	req := models.CreateTeamRequest{TeamID: teamID, TeamName: teamName}
	if err := c.apiClient.Post(ctx, "/leaderboard/create-team", req, resp); err != nil {
		return nil, fmt.Errorf("failed to create team %s: %w", teamID, err)
	}
	if err := unsuccessful("create team", resp.Success, resp.Error); err != nil {
		return nil, err
	}
	return resp, nil
}

// UpdateTeam applies relative increments. An unknown id yields an error wrapping api.ErrNotFound.
func (c *LeaderboardServiceClient) UpdateTeam(ctx context.Context, req models.UpdateTeamRequest) (*models.MutationResponse, error) {
	resp := &models.MutationResponse{}
	if err := c.apiClient.Post(ctx, "/leaderboard/update", req, resp); err != nil {
		return nil, fmt.Errorf("failed to update team %s: %w", req.TeamID, err)
	}
	if err := unsuccessful("update team", resp.Success, resp.Error); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeleteTeam removes a team. An unknown id yields an error wrapping api.ErrNotFound.
func (c *LeaderboardServiceClient) DeleteTeam(ctx context.Context, teamID string) (*models.MutationResponse, error) {
	resp := &models.MutationResponse{}
	if err := c.apiClient.Delete(ctx, "/leaderboard/team/"+url.PathEscape(teamID), resp); err != nil {
		return nil, fmt.Errorf("failed to delete team %s: %w", teamID, err)
	}
	if err := unsuccessful("delete team", resp.Success, resp.Error); err != nil {
		return nil, err
	}
	return resp, nil
}

// IsUnavailable reports whether err means the service could not be reached or failed internally,
// as opposed to rejecting the request.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, api.ErrInternalError) {
		return true
	}
	return api.GetHTTPStatusCode(err) == 0 && !errors.Is(err, api.ErrUnsuccessful)
}
