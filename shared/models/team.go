// shared/models/team.go
package models

import "time"

// Team is one competing entity on the leaderboard.
// It is stored in MongoDB by the leaderboard service and mirrored in the dashboard's canonical state.
type Team struct {
	TeamID               string     `bson:"_id" json:"team_id"`
	TeamName             string     `bson:"team_name" json:"team_name"`
	Score                int64      `bson:"score" json:"score"`
	ValidationsCompleted int64      `bson:"validations_completed" json:"validations_completed"`
	QueriesExecuted      int64      `bson:"queries_executed" json:"queries_executed"`
	LastUpdated          time.Time  `bson:"last_updated" json:"last_updated"`
	CreatedAt            *time.Time `bson:"created_at,omitempty" json:"created_at,omitempty"`

	// Short-horizon activity, only populated from the activity feed.
	QueriesLast1h  int64 `bson:"-" json:"queries_last_1h,omitempty"`
	QueriesLast24h int64 `bson:"-" json:"queries_last_24h,omitempty"`

	// Rank is derived per projection and never persisted.
	Rank int `bson:"-" json:"rank,omitempty"`
}

// Activity is the cumulative activity count of a team (validations plus queries).
func (t Team) Activity() int64 {
	return t.ValidationsCompleted + t.QueriesExecuted
}

// TeamRecord is a team as delivered by a feed. A nil field was not present in the payload
// and must not overwrite anything.
type TeamRecord struct {
	TeamID               string     `json:"team_id"`
	TeamName             *string    `json:"team_name,omitempty"`
	Score                *int64     `json:"score,omitempty"`
	ValidationsCompleted *int64     `json:"validations_completed,omitempty"`
	QueriesExecuted      *int64     `json:"queries_executed,omitempty"`
	LastUpdated          *time.Time `json:"last_updated,omitempty"`
	QueriesLast1h        *int64     `json:"queries_last_1h,omitempty"`
	QueriesLast24h       *int64     `json:"queries_last_24h,omitempty"`
}

// TeamDelta is a relative adjustment to a team's counters.
type TeamDelta struct {
	Score       int64
	Validations int64
	Queries     int64
}

// IsZero reports whether the delta changes nothing.
func (d TeamDelta) IsZero() bool {
	return d.Score == 0 && d.Validations == 0 && d.Queries == 0
}

// Record converts a stored team into its wire form with every counter present.
func (t Team) Record() TeamRecord {
	rec := TeamRecord{
		TeamID:               t.TeamID,
		TeamName:             &t.TeamName,
		Score:                &t.Score,
		ValidationsCompleted: &t.ValidationsCompleted,
		QueriesExecuted:      &t.QueriesExecuted,
	}
	if !t.LastUpdated.IsZero() {
		rec.LastUpdated = &t.LastUpdated
	}
	return rec
}
