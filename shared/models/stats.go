package models

import "time"

// TopTeam references the highest scoring team.
type TopTeam struct {
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name"`
	Score    int64  `json:"score"`
}

// MostActiveTeam is refreshed by both the stats endpoint and the faster activity endpoint.
type MostActiveTeam struct {
	TeamID               string    `json:"team_id"`
	TeamName             string    `json:"team_name"`
	Activity             int64     `json:"activity"`
	ActivityStatus       string    `json:"activity_status,omitempty"`
	ValidationsCompleted int64     `json:"validations_completed"`
	QueriesExecuted      int64     `json:"queries_executed"`
	RecentQueries        int64     `json:"recent_queries"`
	LastUpdated          time.Time `json:"last_updated"`
}

// StatsSummary is the single aggregate record over all teams.
type StatsSummary struct {
	TotalTeams          int64           `json:"total_teams"`
	TotalScore          int64           `json:"total_score"`
	TotalValidations    int64           `json:"total_validations"`
	TotalQueries        int64           `json:"total_queries"`
	AverageScore        float64         `json:"average_score"`
	RecentActivityCount int64           `json:"recent_activity"`
	TopTeam             *TopTeam        `json:"top_team"`
	MostActiveTeam      *MostActiveTeam `json:"most_active_team"`
}

// ActivitySample is one team's short-horizon activity.
type ActivitySample struct {
	TeamID         string    `json:"team_id"`
	TeamName       string    `json:"team_name,omitempty"`
	QueriesLast1h  int64     `json:"queries_last_1h"`
	QueriesLast24h int64     `json:"queries_last_24h"`
	LastUpdated    time.Time `json:"last_updated,omitempty"`
	ActivityStatus string    `json:"activity_status,omitempty"`
}

// ActivityFeed is the dashboard's view of the most recent activity poll.
type ActivityFeed struct {
	Samples           []ActivitySample `json:"samples"`
	ActivityTimestamp time.Time        `json:"activity_timestamp"`
	FetchedAt         time.Time        `json:"fetched_at"`
}
