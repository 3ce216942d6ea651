package engine

import (
	"time"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/classifier"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/merger"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/ranking"
)

// Snapshot is an immutable view of the canonical state with every projection derived.
// Readers must not modify it.
type Snapshot struct {
	Version     uint64               `json:"version"`
	GeneratedAt time.Time            `json:"generated_at"`
	Teams       []models.Team        `json:"teams"`
	Stats       models.StatsSummary  `json:"stats"`
	Rankings    ranking.Set          `json:"rankings"`
	Activity    models.ActivityFeed  `json:"activity"`
	Anomalies   merger.AnomalyCounts `json:"anomalies"`
}

// Ranking returns one projection.
func (s *Snapshot) Ranking(v ranking.View) []models.Team {
	return s.Rankings[v]
}

// build is called with e.mu held.
func (e *Engine) build(st merger.State) *Snapshot {
	teams := st.Teams()
	activity := st.Activity()

	recent := make(map[string]models.ActivitySample, len(activity.Samples))
	for i := range activity.Samples {
		sample := &activity.Samples[i]
		sample.ActivityStatus = string(e.classifier.Classify(sample.QueriesLast1h, sample.QueriesLast24h))
		recent[sample.TeamID] = *sample
	}

	stats := st.Stats()
	if active := stats.MostActiveTeam; active != nil && active.ActivityStatus == "" {
		status := e.classifier.Classify(0, active.RecentQueries)
		if sample, ok := recent[active.TeamID]; ok {
			status = e.classifier.Classify(sample.QueriesLast1h, max(sample.QueriesLast24h, active.RecentQueries))
		}
		active.ActivityStatus = string(status)
	}

	return &Snapshot{
		Version:     st.Version(),
		GeneratedAt: e.cfg.Clock.Now(),
		Teams:       teams,
		Stats:       stats,
		Rankings:    ranking.DeriveTop(teams, e.cfg.RankingLimit),
		Activity:    activity,
		Anomalies:   e.anomalies,
	}
}

// Classify exposes the engine's configured classifier.
func (e *Engine) Classify(activityCount, recentQueryCount int64) classifier.Status {
	return e.classifier.Classify(activityCount, recentQueryCount)
}
