package merger

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func ptr[T any](v T) *T { return &v }

func fullRecord(id, name string, score, validations, queries int64, updated time.Time) models.TeamRecord {
	return models.TeamRecord{
		TeamID:               id,
		TeamName:             ptr(name),
		Score:                ptr(score),
		ValidationsCompleted: ptr(validations),
		QueriesExecuted:      ptr(queries),
		LastUpdated:          ptr(updated),
	}
}

func TestMerger_Merge_InsertsUnknownTeams(t *testing.T) {
	t.Parallel()

	s, r := Merge(NewState(), Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 50, 1, 2, t0),
		fullRecord("t2", "Beta", 40, 0, 0, t0),
	}}, FeedSnapshot, at(1))

	require.Equal(t, 2, r.Inserted)
	require.True(t, r.Changed)
	require.Equal(t, uint64(1), s.Version())
	team, ok := s.Team("t1")
	require.True(t, ok)
	require.Equal(t, "Alpha", team.TeamName)
	require.Equal(t, int64(50), team.Score)
}

func TestMerger_Merge_OlderFetchDoesNotOverwrite(t *testing.T) {
	t.Parallel()

	s, _ := Merge(NewState(), Incoming{Teams: []models.TeamRecord{
		{TeamID: "t1", Score: ptr(int64(20))},
	}}, FeedSnapshot, at(10))

	s, r := Merge(s, Incoming{Teams: []models.TeamRecord{
		{TeamID: "t1", Score: ptr(int64(15))},
	}}, FeedSnapshot, at(5))

	team, _ := s.Team("t1")
	require.Equal(t, int64(20), team.Score)
	require.Equal(t, 1, r.Stale)
	require.Empty(t, r.Anomalies)
	require.False(t, r.Changed)
}

func TestMerger_Merge_PartialRecordLeavesOtherFieldsUntouched(t *testing.T) {
	t.Parallel()

	s, _ := Merge(NewState(), Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 50, 1, 2, t0),
	}}, FeedSnapshot, at(1))

	s, r := Merge(s, Incoming{Teams: []models.TeamRecord{
		{TeamID: "t1", QueriesLast1h: ptr(int64(3))},
	}}, FeedActivity, at(2))

	team, _ := s.Team("t1")
	require.Equal(t, "Alpha", team.TeamName)
	require.Equal(t, int64(50), team.Score)
	require.Equal(t, int64(3), team.QueriesLast1h)
	require.Equal(t, 1, r.Updated)

	activity := s.Activity()
	require.Len(t, activity.Samples, 1)
	require.Equal(t, "Alpha", activity.Samples[0].TeamName)
	require.Equal(t, int64(3), activity.Samples[0].QueriesLast1h)
}

func TestMerger_Merge_AbsentTeamsAreNotDeleted(t *testing.T) {
	t.Parallel()

	s, _ := Merge(NewState(), Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 1, 0, 0, t0),
		fullRecord("t2", "Beta", 1, 0, 0, t0),
	}}, FeedSnapshot, at(1))

	s, _ = Merge(s, Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 2, 0, 0, t0),
	}}, FeedSnapshot, at(2))

	require.True(t, s.Has("t2"))
	require.Equal(t, 2, s.Len())
}

func TestMerger_Merge_Idempotent(t *testing.T) {
	t.Parallel()

	in := Incoming{
		Teams: []models.TeamRecord{
			fullRecord("t1", "Alpha", 50, 1, 2, t0),
			fullRecord("t2", "Beta", 40, 3, 4, t0),
		},
		Stats: &models.StatsSummary{
			TotalTeams: 2, TotalScore: 90, TotalValidations: 4, TotalQueries: 6, AverageScore: 45,
			TopTeam:        &models.TopTeam{TeamID: "t1", TeamName: "Alpha", Score: 50},
			MostActiveTeam: &models.MostActiveTeam{TeamID: "t2", TeamName: "Beta", Activity: 7, LastUpdated: t0},
		},
	}

	once, _ := Merge(NewState(), in, FeedSnapshot, at(3))
	twice, r := Merge(once, in, FeedSnapshot, at(3))

	require.Equal(t, once, twice)
	require.False(t, r.Changed)
	require.Zero(t, r.Stale)
}

func TestMerger_Merge_IdempotentWithAnomalousRecords(t *testing.T) {
	t.Parallel()

	in := Incoming{Teams: []models.TeamRecord{
		{TeamID: "", Score: ptr(int64(5))},
		{TeamID: "t1", TeamName: ptr("Alpha"), Score: ptr(int64(-3))},
		fullRecord("t2", "Beta", 40, 3, 4, t0),
	}}

	once, first := Merge(NewState(), in, FeedSnapshot, at(3))
	twice, second := Merge(once, in, FeedSnapshot, at(3))

	require.Equal(t, once, twice)
	require.Equal(t, uint64(1), twice.Version())
	require.False(t, second.Changed)

	// The repeated anomalies are still reported for telemetry.
	require.Len(t, first.Anomalies, 2)
	require.Len(t, second.Anomalies, 2)
}

func TestMerger_Merge_DuplicateIDsReplace(t *testing.T) {
	t.Parallel()

	s, r := Merge(NewState(), Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 1, 0, 0, t0),
		fullRecord("t1", "Alpha Prime", 9, 0, 0, t0),
	}}, FeedSnapshot, at(1))

	require.Equal(t, 1, s.Len())
	require.Equal(t, 1, r.Inserted)
	team, _ := s.Team("t1")
	require.Equal(t, "Alpha Prime", team.TeamName)
	require.Equal(t, int64(9), team.Score)
}

func TestMerger_Merge_MalformedRecordsAreDroppedAndCounted(t *testing.T) {
	t.Parallel()

	s, r := Merge(NewState(), Incoming{Teams: []models.TeamRecord{
		{TeamID: "", Score: ptr(int64(5))},
		{TeamID: "   ", Score: ptr(int64(5))},
		fullRecord("t1", "Alpha", 1, 0, 0, t0),
	}}, FeedSnapshot, at(1))

	require.Equal(t, 1, s.Len())
	require.Len(t, r.Anomalies, 2)
	for _, a := range r.Anomalies {
		require.Equal(t, AnomalyMalformedRecord, a.Kind)
	}
	var counts AnomalyCounts
	counts.Record(r)
	require.Equal(t, int64(2), counts.Malformed)
}

func TestMerger_Merge_NegativeCountersClampAndReport(t *testing.T) {
	t.Parallel()

	s, r := Merge(NewState(), Incoming{Teams: []models.TeamRecord{
		{TeamID: "t1", Score: ptr(int64(-4)), QueriesExecuted: ptr(int64(-1))},
	}}, FeedSnapshot, at(1))

	team, _ := s.Team("t1")
	require.Zero(t, team.Score)
	require.Zero(t, team.QueriesExecuted)
	require.Len(t, r.Anomalies, 2)
	require.Equal(t, AnomalyCounterUnderflow, r.Anomalies[0].Kind)
	require.Equal(t, "t1", r.Anomalies[0].TeamID)
	var counts AnomalyCounts
	counts.Record(r)
	require.Equal(t, int64(2), counts.Underflow)
}

func TestMerger_Merge_OlderLastUpdatedIsDiscardedForTeam(t *testing.T) {
	t.Parallel()

	s, _ := Merge(NewState(), Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 30, 0, 0, at(100)),
	}}, FeedSnapshot, at(1))

	s, r := Merge(s, Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Renamed", 10, 0, 0, at(50)),
	}}, FeedSnapshot, at(2))

	team, _ := s.Team("t1")
	require.Equal(t, "Alpha", team.TeamName)
	require.Equal(t, int64(30), team.Score)
	require.Equal(t, at(100), team.LastUpdated)
	require.Equal(t, 1, r.Stale)
	require.Empty(t, r.Anomalies)
}

func TestMerger_Merge_MostActiveUsesLastWriterPerFeed(t *testing.T) {
	t.Parallel()

	fromActivity := &models.MostActiveTeam{TeamID: "t2", TeamName: "Beta", Activity: 12, ActivityStatus: "Very Active"}
	s, _ := Merge(NewState(), Incoming{MostActive: fromActivity}, FeedActivity, at(20))

	// A full snapshot issued earlier must not replace the fresher activity value,
	// but its other stats fields still apply.
	s, _ = Merge(s, Incoming{Stats: &models.StatsSummary{
		TotalTeams:     2,
		MostActiveTeam: &models.MostActiveTeam{TeamID: "t1", TeamName: "Alpha", Activity: 3},
	}}, FeedSnapshot, at(10))

	stats := s.Stats()
	require.Equal(t, int64(2), stats.TotalTeams)
	require.Equal(t, "t2", stats.MostActiveTeam.TeamID)

	// And the reverse: a stale activity poll does not overwrite a newer snapshot value.
	s, _ = Merge(s, Incoming{Stats: &models.StatsSummary{
		TotalTeams:     2,
		MostActiveTeam: &models.MostActiveTeam{TeamID: "t1", TeamName: "Alpha", Activity: 30},
	}}, FeedSnapshot, at(30))
	s, _ = Merge(s, Incoming{MostActive: fromActivity}, FeedActivity, at(25))

	require.Equal(t, "t1", s.Stats().MostActiveTeam.TeamID)
}

func TestMerger_Merge_ActivityOnlyPayloadKeepsStatsTotals(t *testing.T) {
	t.Parallel()

	s, _ := Merge(NewState(), Incoming{Stats: &models.StatsSummary{TotalTeams: 4, TotalScore: 100}}, FeedSnapshot, at(1))
	s, _ = Merge(s, Incoming{MostActive: &models.MostActiveTeam{TeamID: "t1"}}, FeedActivity, at(2))

	stats := s.Stats()
	require.Equal(t, int64(4), stats.TotalTeams)
	require.Equal(t, int64(100), stats.TotalScore)
	require.Equal(t, "t1", stats.MostActiveTeam.TeamID)
}

func TestMerger_Merge_DoesNotModifyInputState(t *testing.T) {
	t.Parallel()

	base, _ := Merge(NewState(), Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 1, 0, 0, t0),
	}}, FeedSnapshot, at(1))

	_, _ = Merge(base, Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 99, 0, 0, t0),
		fullRecord("t2", "Beta", 1, 0, 0, t0),
	}}, FeedSnapshot, at(2))

	team, _ := base.Team("t1")
	require.Equal(t, int64(1), team.Score)
	require.False(t, base.Has("t2"))
	require.Equal(t, uint64(1), base.Version())
}

func TestMerger_Remove_TombstoneBlocksEarlierFetches(t *testing.T) {
	t.Parallel()

	s, _ := Merge(NewState(), Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 1, 0, 0, t0),
	}}, FeedSnapshot, at(1))

	s, existed := Remove(s, "t1", at(10))
	require.True(t, existed)
	require.False(t, s.Has("t1"))
	require.True(t, s.Tombstoned("t1"))

	// A poll issued before the delete was confirmed still carries the team.
	s, r := Merge(s, Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 1, 0, 0, t0),
	}}, FeedSnapshot, at(5))
	require.False(t, s.Has("t1"))
	require.Equal(t, 1, r.Stale)
	require.True(t, s.Tombstoned("t1"))

	// Activity feeds never resurrect a deleted team.
	s, _ = Merge(s, Incoming{Teams: []models.TeamRecord{
		{TeamID: "t1", QueriesLast1h: ptr(int64(1))},
	}}, FeedActivity, at(20))
	require.False(t, s.Has("t1"))

	// An authoritative snapshot issued afterwards reconciles the delete.
	s, _ = Merge(s, Incoming{Teams: []models.TeamRecord{
		fullRecord("t2", "Beta", 1, 0, 0, t0),
	}}, FeedSnapshot, at(11))
	require.False(t, s.Has("t1"))
	require.False(t, s.Tombstoned("t1"))

	// A poll issued before the delete that arrives even later still cannot resurrect it.
	s, r = Merge(s, Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 1, 0, 0, t0),
	}}, FeedSnapshot, at(9))
	require.False(t, s.Has("t1"))
	require.Equal(t, 1, r.Stale)
}

func TestMerger_Remove_AuthoritativeSnapshotRestoresTeamStillOnServer(t *testing.T) {
	t.Parallel()

	s, _ := Merge(NewState(), Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 1, 0, 0, t0),
	}}, FeedSnapshot, at(1))
	s, _ = Remove(s, "t1", at(10))

	s, r := Merge(s, Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 1, 0, 0, t0),
	}}, FeedSnapshot, at(12))
	require.True(t, s.Has("t1"))
	require.Equal(t, 1, r.Inserted)
	require.False(t, s.Tombstoned("t1"))
}

func TestMerger_Merge_RandomSequencesKeepInvariants(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	s := NewState()
	for i := 0; i < 500; i++ {
		var recs []models.TeamRecord
		for j := 0; j < rng.Intn(5); j++ {
			rec := models.TeamRecord{TeamID: fmt.Sprintf("t%d", rng.Intn(6))}
			if rng.Intn(2) == 0 {
				rec.Score = ptr(int64(rng.Intn(40) - 10))
			}
			if rng.Intn(2) == 0 {
				rec.QueriesExecuted = ptr(int64(rng.Intn(40) - 10))
			}
			if rng.Intn(2) == 0 {
				rec.ValidationsCompleted = ptr(int64(rng.Intn(40) - 10))
			}
			if rng.Intn(3) == 0 {
				rec.LastUpdated = ptr(at(rng.Intn(100)))
			}
			recs = append(recs, rec)
		}
		feed := FeedSnapshot
		if rng.Intn(2) == 0 {
			feed = FeedActivity
		}
		s, _ = Merge(s, Incoming{Teams: recs}, feed, at(rng.Intn(200)))
		if rng.Intn(20) == 0 {
			s, _ = Remove(s, fmt.Sprintf("t%d", rng.Intn(6)), at(rng.Intn(200)))
		}

		seen := map[string]bool{}
		for _, team := range s.Teams() {
			require.False(t, seen[team.TeamID], "duplicate team id %s", team.TeamID)
			seen[team.TeamID] = true
			require.GreaterOrEqual(t, team.Score, int64(0))
			require.GreaterOrEqual(t, team.ValidationsCompleted, int64(0))
			require.GreaterOrEqual(t, team.QueriesExecuted, int64(0))
		}
	}
}

func TestMerger_PruneTombstones_DropsOnlyReconciledAndOld(t *testing.T) {
	t.Parallel()

	s, _ := Merge(NewState(), Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 1, 0, 0, t0),
		fullRecord("t2", "Beta", 1, 0, 0, t0),
	}}, FeedSnapshot, at(1))
	s, _ = Remove(s, "t1", at(10))
	s, _ = Merge(s, Incoming{Teams: []models.TeamRecord{fullRecord("t2", "Beta", 1, 0, 0, t0)}}, FeedSnapshot, at(11))
	s, _ = Remove(s, "t2", at(20))
	version := s.Version()

	// t2 is not reconciled yet, t1 is reconciled but too recent.
	pruned := PruneTombstones(s, at(5))
	require.Len(t, pruned.tombstones, 2)

	pruned = PruneTombstones(s, at(30))
	require.Len(t, pruned.tombstones, 1)
	require.True(t, pruned.Tombstoned("t2"))
	require.Equal(t, version, pruned.Version())
	require.Len(t, s.tombstones, 2, "input state must not change")
}

func TestMerger_Merge_ActivityFeedClearsWindowCountsOfUnlistedTeams(t *testing.T) {
	t.Parallel()

	s, _ := Merge(NewState(), Incoming{Teams: []models.TeamRecord{
		fullRecord("t1", "Alpha", 1, 0, 0, t0),
		fullRecord("t2", "Beta", 1, 0, 0, t0),
	}}, FeedSnapshot, at(1))
	s, _ = Merge(s, Incoming{Teams: []models.TeamRecord{
		{TeamID: "t1", QueriesLast1h: ptr(int64(3)), QueriesLast24h: ptr(int64(9))},
		{TeamID: "t2", QueriesLast1h: ptr(int64(1)), QueriesLast24h: ptr(int64(2))},
	}}, FeedActivity, at(2))

	// t1 dropped out of the activity window.
	s, r := Merge(s, Incoming{Teams: []models.TeamRecord{
		{TeamID: "t2", QueriesLast1h: ptr(int64(0)), QueriesLast24h: ptr(int64(2))},
	}}, FeedActivity, at(3))
	require.True(t, r.Changed)

	t1, _ := s.Team("t1")
	require.Zero(t, t1.QueriesLast1h)
	require.Zero(t, t1.QueriesLast24h)
	t2, _ := s.Team("t2")
	require.Equal(t, int64(2), t2.QueriesLast24h)

	// A late activity feed issued before the clear does not bring the old counts back.
	s, _ = Merge(s, Incoming{Teams: []models.TeamRecord{
		{TeamID: "t1", QueriesLast1h: ptr(int64(3)), QueriesLast24h: ptr(int64(9))},
	}}, FeedActivity, at(2))
	t1, _ = s.Team("t1")
	require.Zero(t, t1.QueriesLast24h)
}
