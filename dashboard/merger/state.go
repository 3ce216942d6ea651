package merger

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
)

// teamField indexes the per-field freshness timestamps of a team.
type teamField int

const (
	fieldName teamField = iota
	fieldScore
	fieldValidations
	fieldQueries
	fieldLastUpdated
	fieldQueries1h
	fieldQueries24h
	numTeamFields
)

// statsField indexes the per-field freshness timestamps of the stats summary.
type statsField int

const (
	statsTotalTeams statsField = iota
	statsTotalScore
	statsTotalValidations
	statsTotalQueries
	statsAverageScore
	statsRecentActivity
	statsTopTeam
	statsMostActive
	numStatsFields
)

type entry struct {
	team  models.Team
	fresh [numTeamFields]time.Time
}

// AnomalyCounts accumulates data-quality problems seen since start. It is telemetry kept by
// the owner of the state, not part of the State: a repeated feed repeats its anomalies
// without changing the canonical records.
type AnomalyCounts struct {
	Malformed int64 `json:"malformed_records"`
	Underflow int64 `json:"counter_underflows"`
	Stale     int64 `json:"stale_writes"`
}

// State is the canonical, versioned record set. Values are never modified in place:
// Merge and Remove return a new State, so a State handed out is safe to read concurrently.
type State struct {
	version    uint64
	teams      map[string]entry
	stats      models.StatsSummary
	statsFresh [numStatsFields]time.Time
	activity   models.ActivityFeed
	tombstones map[string]tombstone
}

// tombstone marks a confirmed delete. Records fetched before deletedAt are ignored for good.
// Until an authoritative snapshot fetched at or after deletedAt has been merged the delete is
// pending and no feed may bring the team back.
type tombstone struct {
	deletedAt  time.Time
	reconciled bool
}

// NewState returns an empty canonical state at version 0.
func NewState() State {
	return State{
		teams:      make(map[string]entry),
		tombstones: make(map[string]tombstone),
	}
}

func (s State) clone() State {
	next := s
	next.teams = maps.Clone(s.teams)
	if next.teams == nil {
		next.teams = make(map[string]entry)
	}
	next.tombstones = maps.Clone(s.tombstones)
	if next.tombstones == nil {
		next.tombstones = make(map[string]tombstone)
	}
	return next
}

// Version increases every time the visible content of the state changes.
func (s State) Version() uint64 { return s.version }

// Len is the number of teams held.
func (s State) Len() int { return len(s.teams) }

// Has reports whether teamID is held.
func (s State) Has(teamID string) bool {
	_, ok := s.teams[teamID]
	return ok
}

// Team returns a copy of one team.
func (s State) Team(teamID string) (models.Team, bool) {
	e, ok := s.teams[teamID]
	return e.team, ok
}

// Teams returns a copy of every team, ordered by team id.
func (s State) Teams() []models.Team {
	out := make([]models.Team, 0, len(s.teams))
	for _, e := range s.teams {
		out = append(out, e.team)
	}
	slices.SortFunc(out, func(a, b models.Team) int { return strings.Compare(a.TeamID, b.TeamID) })
	return out
}

// Stats returns a deep copy of the stats summary.
func (s State) Stats() models.StatsSummary {
	out := s.stats
	if s.stats.TopTeam != nil {
		top := *s.stats.TopTeam
		out.TopTeam = &top
	}
	if s.stats.MostActiveTeam != nil {
		active := *s.stats.MostActiveTeam
		out.MostActiveTeam = &active
	}
	return out
}

// Activity returns a copy of the last accepted activity feed.
func (s State) Activity() models.ActivityFeed {
	out := s.activity
	out.Samples = slices.Clone(s.activity.Samples)
	return out
}

// Tombstoned reports whether teamID was deleted locally and is awaiting reconciliation.
func (s State) Tombstoned(teamID string) bool {
	ts, ok := s.tombstones[teamID]
	return ok && !ts.reconciled
}

// Remove drops a team after a confirmed delete. The tombstone keeps feeds issued before
// deletedAt from resurrecting it until an authoritative snapshot fetched at or after
// deletedAt has been merged.
func Remove(s State, teamID string, deletedAt time.Time) (State, bool) {
	next := s.clone()
	_, existed := next.teams[teamID]
	delete(next.teams, teamID)
	next.tombstones[teamID] = tombstone{deletedAt: deletedAt}
	next.version = s.version + 1
	return next, existed
}

// PruneTombstones forgets reconciled deletes older than before. No fetch issued before
// such a delete can still be outstanding, so the tombstone has nothing left to guard.
// The visible content is unchanged and so is the version.
func PruneTombstones(s State, before time.Time) State {
	stale := false
	for _, ts := range s.tombstones {
		if ts.reconciled && ts.deletedAt.Before(before) {
			stale = true
			break
		}
	}
	if !stale {
		return s
	}
	next := s.clone()
	maps.DeleteFunc(next.tombstones, func(_ string, ts tombstone) bool {
		return ts.reconciled && ts.deletedAt.Before(before)
	})
	return next
}

// Add counts one anomaly.
func (c *AnomalyCounts) Add(kind AnomalyKind) {
	switch kind {
	case AnomalyMalformedRecord:
		c.Malformed++
	case AnomalyCounterUnderflow:
		c.Underflow++
	case AnomalyStaleWrite:
		c.Stale++
	}
}

// Record counts the anomalies and stale writes of one merge.
func (c *AnomalyCounts) Record(r Report) {
	for _, a := range r.Anomalies {
		c.Add(a.Kind)
	}
	c.Stale += int64(r.Stale)
}
