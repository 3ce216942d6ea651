// Package merger folds partial feed snapshots into the canonical leaderboard state.
//
// Each (team, field) pair and each stats field remembers the fetch time of the value it
// holds. A present field overwrites only when its fetch is not older than that time, and an
// absent field is never touched, so feeds that own different fields cannot erase each other.
package merger

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
)

// Feed identifies the source of an incoming snapshot.
type Feed string

const (
	// FeedActivity is the fast activity poll.
	FeedActivity Feed = "activity"
	// FeedSnapshot is the slow full poll (leaderboard, stats, rankings). It is the only feed
	// allowed to reconcile a locally deleted team.
	FeedSnapshot Feed = "snapshot"
)

// AnomalyKind classifies a data-quality problem found while merging or mutating.
type AnomalyKind string

const (
	AnomalyMalformedRecord  AnomalyKind = "malformed_record"
	AnomalyCounterUnderflow AnomalyKind = "counter_underflow"
	AnomalyStaleWrite       AnomalyKind = "stale_write"
)

// Anomaly is one reportable data-quality problem.
type Anomaly struct {
	Kind   AnomalyKind
	TeamID string
	Field  string
	Detail string
}

func (a Anomaly) String() string {
	if a.TeamID == "" {
		return fmt.Sprintf("%s: %s", a.Kind, a.Detail)
	}
	return fmt.Sprintf("%s: team %s %s: %s", a.Kind, a.TeamID, a.Field, a.Detail)
}

// Incoming is one feed payload. Nil or empty members are absent and leave state untouched.
type Incoming struct {
	Teams []models.TeamRecord
	Stats *models.StatsSummary
	// MostActive overrides Stats.MostActiveTeam when set.
	MostActive        *models.MostActiveTeam
	ActivityTimestamp time.Time
}

// Report describes what a merge did.
type Report struct {
	Inserted  int
	Updated   int
	Stale     int
	Anomalies []Anomaly
	Changed   bool
}

// Merge applies in, fetched at fetchedAt from feed, on top of s and returns the new state.
// s itself is left unmodified.
func Merge(s State, in Incoming, feed Feed, fetchedAt time.Time) (State, Report) {
	next := s.clone()
	var r Report

	var samples []models.ActivitySample
	for _, rec := range in.Teams {
		id := strings.TrimSpace(rec.TeamID)
		if id == "" {
			r.Anomalies = append(r.Anomalies, Anomaly{Kind: AnomalyMalformedRecord, Field: "team_id", Detail: "record without team_id dropped"})
			continue
		}
		if ts, ok := next.tombstones[id]; ok {
			if fetchedAt.Before(ts.deletedAt) || (!ts.reconciled && feed != FeedSnapshot) {
				r.Stale++
				continue
			}
			// The team exists on the server again.
			delete(next.tombstones, id)
		}

		cur, exists := next.teams[id]
		if !exists {
			cur = entry{team: models.Team{TeamID: id}}
		}
		if exists && rec.LastUpdated != nil && rec.LastUpdated.Before(cur.team.LastUpdated) {
			r.Stale++
			continue
		}

		changed := mergeRecord(&cur, rec, fetchedAt, &r)
		switch {
		case !exists:
			r.Inserted++
			r.Changed = true
		case changed:
			r.Updated++
			r.Changed = true
		}
		next.teams[id] = cur

		if feed == FeedActivity {
			samples = append(samples, sampleFrom(cur.team, rec))
		}
	}

	if mergeStats(&next, in, fetchedAt, &r) {
		r.Changed = true
	}

	if feed == FeedActivity && !fetchedAt.Before(next.activity.FetchedAt) {
		prev := next.activity
		next.activity = models.ActivityFeed{
			Samples:           samples,
			ActivityTimestamp: in.ActivityTimestamp,
			FetchedAt:         fetchedAt,
		}
		if !slices.Equal(prev.Samples, samples) || !prev.ActivityTimestamp.Equal(in.ActivityTimestamp) {
			r.Changed = true
		}
		if clearWindowCounts(&next, in.Teams, fetchedAt) {
			r.Changed = true
		}
	}

	if feed == FeedSnapshot {
		for id, ts := range next.tombstones {
			if !ts.reconciled && !fetchedAt.Before(ts.deletedAt) {
				ts.reconciled = true
				next.tombstones[id] = ts
			}
		}
	}

	if r.Changed {
		next.version = s.version + 1
	}
	return next, r
}

// fresh reports whether a value fetched at fetchedAt may replace one recorded at held,
// and records the new time when it may.
func fresh(held *time.Time, fetchedAt time.Time) bool {
	if fetchedAt.Before(*held) {
		return false
	}
	*held = fetchedAt
	return true
}

func mergeRecord(e *entry, rec models.TeamRecord, fetchedAt time.Time, r *Report) bool {
	changed := false
	if rec.TeamName != nil {
		changed = setField(e, fieldName, &e.team.TeamName, *rec.TeamName, fetchedAt, r) || changed
	}
	if rec.Score != nil {
		changed = setCounter(e, fieldScore, "score", &e.team.Score, *rec.Score, fetchedAt, r) || changed
	}
	if rec.ValidationsCompleted != nil {
		changed = setCounter(e, fieldValidations, "validations_completed", &e.team.ValidationsCompleted, *rec.ValidationsCompleted, fetchedAt, r) || changed
	}
	if rec.QueriesExecuted != nil {
		changed = setCounter(e, fieldQueries, "queries_executed", &e.team.QueriesExecuted, *rec.QueriesExecuted, fetchedAt, r) || changed
	}
	if rec.LastUpdated != nil && fresh(&e.fresh[fieldLastUpdated], fetchedAt) {
		if !e.team.LastUpdated.Equal(*rec.LastUpdated) {
			e.team.LastUpdated = *rec.LastUpdated
			changed = true
		}
	}
	if rec.QueriesLast1h != nil {
		changed = setCounter(e, fieldQueries1h, "queries_last_1h", &e.team.QueriesLast1h, *rec.QueriesLast1h, fetchedAt, r) || changed
	}
	if rec.QueriesLast24h != nil {
		changed = setCounter(e, fieldQueries24h, "queries_last_24h", &e.team.QueriesLast24h, *rec.QueriesLast24h, fetchedAt, r) || changed
	}
	return changed
}

func setField[T comparable](e *entry, f teamField, dst *T, v T, fetchedAt time.Time, r *Report) bool {
	if !fresh(&e.fresh[f], fetchedAt) {
		r.Stale++
		return false
	}
	if *dst == v {
		return false
	}
	*dst = v
	return true
}

func setCounter(e *entry, f teamField, name string, dst *int64, v int64, fetchedAt time.Time, r *Report) bool {
	if v < 0 {
		if fetchedAt.Before(e.fresh[f]) {
			r.Stale++
			return false
		}
		r.Anomalies = append(r.Anomalies, Anomaly{
			Kind:   AnomalyCounterUnderflow,
			TeamID: e.team.TeamID,
			Field:  name,
			Detail: fmt.Sprintf("negative value %d clamped to 0", v),
		})
		v = 0
	}
	return setField(e, f, dst, v, fetchedAt, r)
}

// clearWindowCounts zeroes the 1h and 24h query counts of teams an accepted activity feed
// no longer lists. The feed only carries teams active within its window.
func clearWindowCounts(s *State, listed []models.TeamRecord, fetchedAt time.Time) bool {
	ids := make(map[string]struct{}, len(listed))
	for _, rec := range listed {
		ids[strings.TrimSpace(rec.TeamID)] = struct{}{}
	}
	changed := false
	for id, e := range s.teams {
		if _, ok := ids[id]; ok {
			continue
		}
		if e.team.QueriesLast1h == 0 && e.team.QueriesLast24h == 0 {
			continue
		}
		cleared := false
		if fresh(&e.fresh[fieldQueries1h], fetchedAt) && e.team.QueriesLast1h != 0 {
			e.team.QueriesLast1h = 0
			cleared = true
		}
		if fresh(&e.fresh[fieldQueries24h], fetchedAt) && e.team.QueriesLast24h != 0 {
			e.team.QueriesLast24h = 0
			cleared = true
		}
		s.teams[id] = e
		changed = changed || cleared
	}
	return changed
}

func sampleFrom(team models.Team, rec models.TeamRecord) models.ActivitySample {
	s := models.ActivitySample{
		TeamID:      team.TeamID,
		TeamName:    team.TeamName,
		LastUpdated: team.LastUpdated,
	}
	if rec.QueriesLast1h != nil {
		s.QueriesLast1h = max(*rec.QueriesLast1h, 0)
	}
	if rec.QueriesLast24h != nil {
		s.QueriesLast24h = max(*rec.QueriesLast24h, 0)
	}
	return s
}

func mergeStats(next *State, in Incoming, fetchedAt time.Time, r *Report) bool {
	changed := false
	stat := func(f statsField, name string, dst *int64, v int64) {
		if !fresh(&next.statsFresh[f], fetchedAt) {
			r.Stale++
			return
		}
		if v < 0 {
			r.Anomalies = append(r.Anomalies, Anomaly{Kind: AnomalyCounterUnderflow, Field: name, Detail: fmt.Sprintf("negative total %d clamped to 0", v)})
			v = 0
		}
		if *dst != v {
			*dst = v
			changed = true
		}
	}

	if st := in.Stats; st != nil {
		stat(statsTotalTeams, "total_teams", &next.stats.TotalTeams, st.TotalTeams)
		stat(statsTotalScore, "total_score", &next.stats.TotalScore, st.TotalScore)
		stat(statsTotalValidations, "total_validations", &next.stats.TotalValidations, st.TotalValidations)
		stat(statsTotalQueries, "total_queries", &next.stats.TotalQueries, st.TotalQueries)
		stat(statsRecentActivity, "recent_activity", &next.stats.RecentActivityCount, st.RecentActivityCount)
		if fresh(&next.statsFresh[statsAverageScore], fetchedAt) {
			avg := max(st.AverageScore, 0)
			if next.stats.AverageScore != avg {
				next.stats.AverageScore = avg
				changed = true
			}
		} else {
			r.Stale++
		}
		if st.TopTeam != nil {
			if fresh(&next.statsFresh[statsTopTeam], fetchedAt) {
				top := *st.TopTeam
				if next.stats.TopTeam == nil || *next.stats.TopTeam != top {
					next.stats.TopTeam = &top
					changed = true
				}
			} else {
				r.Stale++
			}
		}
	}

	active := in.MostActive
	if active == nil && in.Stats != nil {
		active = in.Stats.MostActiveTeam
	}
	if active != nil {
		if fresh(&next.statsFresh[statsMostActive], fetchedAt) {
			cp := *active
			if next.stats.MostActiveTeam == nil || !sameMostActive(*next.stats.MostActiveTeam, cp) {
				next.stats.MostActiveTeam = &cp
				changed = true
			}
		} else {
			r.Stale++
		}
	}
	return changed
}

func sameMostActive(a, b models.MostActiveTeam) bool {
	lastA, lastB := a.LastUpdated, b.LastUpdated
	a.LastUpdated, b.LastUpdated = time.Time{}, time.Time{}
	return a == b && lastA.Equal(lastB)
}
