package models

import "time"

// Wire envelopes of the leaderboard service. Every response carries "success";
// failures carry "error" instead of a payload.

type LeaderboardResponse struct {
	Success     bool         `json:"success"`
	Leaderboard []TeamRecord `json:"leaderboard"`
	TotalTeams  int          `json:"total_teams"`
}

type StatsResponse struct {
	Success bool          `json:"success"`
	Stats   *StatsSummary `json:"stats"`
}

type RankingsResponse struct {
	Success  bool              `json:"success"`
	Rankings map[string][]Team `json:"rankings"`
}

type ActivityResponse struct {
	Success           bool            `json:"success"`
	RecentActivity    []TeamRecord    `json:"recent_activity"`
	MostActiveTeam    *MostActiveTeam `json:"most_active_team"`
	ActivityTimestamp time.Time       `json:"activity_timestamp"`
}

type TeamDetailResponse struct {
	Success       bool  `json:"success"`
	TeamData      Team  `json:"team_data"`
	RecentQueries int64 `json:"recent_queries"`
}

type CreateTeamRequest struct {
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name"`
}

type UpdateTeamRequest struct {
	TeamID              string `json:"team_id"`
	ScoreIncrement      int64  `json:"score_increment"`
	ValidationIncrement int64  `json:"validation_increment"`
	QueryIncrement      int64  `json:"query_increment"`
}

type MutationResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	TeamID   string `json:"team_id,omitempty"`
	TeamName string `json:"team_name,omitempty"`
}
