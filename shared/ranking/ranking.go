// Package ranking derives ordered projections of a team collection.
//
// Every projection is a strict total order: the primary counter descending, then
// team_name ascending, then team_id ascending. Ranks are 1-based and dense, so two teams
// with equal scores still receive consecutive ranks.
package ranking

import (
	"cmp"
	"slices"
	"strings"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
)

// View names a ranking dimension.
type View string

const (
	ViewOverall       View = "overall"
	ViewByValidations View = "by_validations"
	ViewByQueries     View = "by_queries"
	ViewMostRecent    View = "most_recent"
)

// Views lists every projection in display order.
var Views = []View{ViewOverall, ViewByValidations, ViewByQueries, ViewMostRecent}

// Set maps a view to its ranked teams.
type Set map[View][]models.Team

// ParseView resolves a view name. It accepts "by_score" as an alias of "overall".
func ParseView(name string) (View, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "by_score" {
		return ViewOverall, true
	}
	for _, v := range Views {
		if string(v) == name {
			return v, true
		}
	}
	return "", false
}

// Derive computes every projection over teams. The input slice is not modified.
func Derive(teams []models.Team) Set {
	return DeriveTop(teams, 0)
}

// DeriveTop is Derive with each projection truncated to limit entries. limit <= 0 keeps all.
func DeriveTop(teams []models.Team, limit int) Set {
	set := make(Set, len(Views))
	for _, v := range Views {
		set[v] = Project(teams, v, limit)
	}
	return set
}

// Project orders teams along a single view and assigns ranks.
func Project(teams []models.Team, view View, limit int) []models.Team {
	out := slices.Clone(teams)
	primary := comparator(view)
	slices.SortFunc(out, func(a, b models.Team) int {
		if c := primary(a, b); c != 0 {
			return c
		}
		if c := strings.Compare(a.TeamName, b.TeamName); c != 0 {
			return c
		}
		return strings.Compare(a.TeamID, b.TeamID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// comparator returns the descending primary-key comparison for view.
func comparator(view View) func(a, b models.Team) int {
	switch view {
	case ViewByValidations:
		return func(a, b models.Team) int { return cmp.Compare(b.ValidationsCompleted, a.ValidationsCompleted) }
	case ViewByQueries:
		return func(a, b models.Team) int { return cmp.Compare(b.QueriesExecuted, a.QueriesExecuted) }
	case ViewMostRecent:
		return func(a, b models.Team) int { return b.LastUpdated.Compare(a.LastUpdated) }
	default:
		return func(a, b models.Team) int { return cmp.Compare(b.Score, a.Score) }
	}
}

// IDs returns the team ids of a projection in order.
func IDs(teams []models.Team) []string {
	ids := make([]string, len(teams))
	for i, t := range teams {
		ids[i] = t.TeamID
	}
	return ids
}
