// leaderboard/service/leaderboard_service.go
package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/leaderboard/store"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/ranking"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrTeamNotFound   = errors.New("team not found")
	ErrTeamExists     = errors.New("team already exists")
)

const (
	recentWindow      = 24 * time.Hour
	activeWindow      = 6 * time.Hour
	veryActiveWindow  = time.Hour
	maxRecentActivity = 10
	// statsRecencyBonus is added to a team's activity in the stats view when it was
	// updated within the recent window.
	statsRecencyBonus = 10
)

// TeamRepository is the authoritative team store.
type TeamRepository interface {
	CreateTeam(ctx context.Context, teamID, teamName string) (models.Team, error)
	GetTeam(ctx context.Context, teamID string) (models.Team, error)
	GetAllTeams(ctx context.Context) ([]models.Team, error)
	ApplyIncrements(ctx context.Context, teamID string, delta models.TeamDelta) (models.Team, error)
	DeleteTeam(ctx context.Context, teamID string) error
}

// ActivityRepository holds timestamped query events per team.
type ActivityRepository interface {
	RecordQueries(ctx context.Context, teamID string, count int64, at time.Time) error
	CountSince(ctx context.Context, teamID string, since time.Time) (int64, error)
	Prune(ctx context.Context, teamID string, before time.Time) (int64, error)
	DeleteTeam(ctx context.Context, teamID string) error
}

type Config struct {
	Clock clockwork.Clock
	// RankingLimit bounds each category of Rankings.
	RankingLimit int
	// Retention is how long query events are kept by PruneActivity.
	Retention time.Duration
}

// LeaderboardService encapsulates the business logic of the leaderboard.
type LeaderboardService struct {
	log          *zap.Logger
	teams        TeamRepository
	activity     ActivityRepository
	clock        clockwork.Clock
	rankingLimit int
	retention    time.Duration
}

// NewLeaderboardService creates a new LeaderboardService instance.
func NewLeaderboardService(log *zap.Logger, cfg Config, teams TeamRepository, activity ActivityRepository) *LeaderboardService {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RankingLimit <= 0 {
		cfg.RankingLimit = 10
	}
	if cfg.Retention <= 0 {
		cfg.Retention = recentWindow
	}
	return &LeaderboardService{
		log:          log,
		teams:        teams,
		activity:     activity,
		clock:        cfg.Clock,
		rankingLimit: cfg.RankingLimit,
		retention:    cfg.Retention,
	}
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrTeamNotFound):
		return fmt.Errorf("%w: %w", ErrTeamNotFound, err)
	case errors.Is(err, store.ErrTeamExists):
		return fmt.Errorf("%w: %w", ErrTeamExists, err)
	default:
		return err
	}
}

// Leaderboard returns teams ordered by score then validations, ranked from 1.
// limit <= 0 returns every team.
func (s *LeaderboardService) Leaderboard(ctx context.Context, limit int) ([]models.Team, error) {
	teams, err := s.teams.GetAllTeams(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(teams, func(a, b models.Team) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.ValidationsCompleted, a.ValidationsCompleted); c != 0 {
			return c
		}
		if c := strings.Compare(a.TeamName, b.TeamName); c != 0 {
			return c
		}
		return strings.Compare(a.TeamID, b.TeamID)
	})
	if limit > 0 && len(teams) > limit {
		teams = teams[:limit]
	}
	for i := range teams {
		teams[i].Rank = i + 1
	}
	return teams, nil
}

// Stats aggregates every team into a single summary.
func (s *LeaderboardService) Stats(ctx context.Context) (*models.StatsSummary, error) {
	teams, err := s.teams.GetAllTeams(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	dayAgo := now.Add(-recentWindow)

	stats := &models.StatsSummary{TotalTeams: int64(len(teams))}
	for _, t := range teams {
		stats.TotalScore += t.Score
		stats.TotalValidations += t.ValidationsCompleted
		stats.TotalQueries += t.QueriesExecuted
		if !t.LastUpdated.Before(dayAgo) {
			stats.RecentActivityCount++
		}
	}
	if len(teams) == 0 {
		return stats, nil
	}
	stats.AverageScore = math.Round(float64(stats.TotalScore)/float64(len(teams))*100) / 100

	top := ranking.Project(teams, ranking.ViewOverall, 1)[0]
	stats.TopTeam = &models.TopTeam{TeamID: top.TeamID, TeamName: top.TeamName, Score: top.Score}

	best := mostActive(teams, func(t models.Team) int64 {
		if !t.LastUpdated.Before(dayAgo) {
			return statsRecencyBonus
		}
		return 0
	})
	recent, err := s.activity.CountSince(ctx, best.TeamID, dayAgo)
	if err != nil {
		return nil, err
	}
	stats.MostActiveTeam = &models.MostActiveTeam{
		TeamID:               best.TeamID,
		TeamName:             best.TeamName,
		Activity:             best.Activity(),
		ValidationsCompleted: best.ValidationsCompleted,
		QueriesExecuted:      best.QueriesExecuted,
		RecentQueries:        recent,
		LastUpdated:          best.LastUpdated,
	}
	return stats, nil
}

// Rankings returns the top teams of each category keyed the way the wire format names them.
func (s *LeaderboardService) Rankings(ctx context.Context) (map[string][]models.Team, error) {
	teams, err := s.teams.GetAllTeams(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]models.Team, len(ranking.Views))
	for view, ranked := range ranking.DeriveTop(teams, s.rankingLimit) {
		key := string(view)
		if view == ranking.ViewOverall {
			key = "by_score"
		}
		out[key] = ranked
	}
	return out, nil
}

// Activity returns the teams updated within the last day, most recent first, with their
// short-horizon query counts, and the most active team weighted by recency.
func (s *LeaderboardService) Activity(ctx context.Context) (*models.ActivityResponse, error) {
	teams, err := s.teams.GetAllTeams(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	dayAgo := now.Add(-recentWindow)
	hourAgo := now.Add(-veryActiveWindow)

	resp := &models.ActivityResponse{
		Success:           true,
		RecentActivity:    []models.TeamRecord{},
		ActivityTimestamp: now,
	}

	recent := slices.DeleteFunc(slices.Clone(teams), func(t models.Team) bool {
		return t.LastUpdated.Before(dayAgo)
	})
	slices.SortFunc(recent, func(a, b models.Team) int {
		if c := b.LastUpdated.Compare(a.LastUpdated); c != 0 {
			return c
		}
		return strings.Compare(a.TeamID, b.TeamID)
	})
	if len(recent) > maxRecentActivity {
		recent = recent[:maxRecentActivity]
	}
	for _, t := range recent {
		q1h, err := s.activity.CountSince(ctx, t.TeamID, hourAgo)
		if err != nil {
			return nil, err
		}
		q24h, err := s.activity.CountSince(ctx, t.TeamID, dayAgo)
		if err != nil {
			return nil, err
		}
		rec := t.Record()
		rec.QueriesLast1h = &q1h
		rec.QueriesLast24h = &q24h
		resp.RecentActivity = append(resp.RecentActivity, rec)
	}

	if len(teams) == 0 {
		return resp, nil
	}
	best := mostActive(teams, func(t models.Team) int64 {
		return recencyBonus(now, t.LastUpdated)
	})
	recentQueries, err := s.activity.CountSince(ctx, best.TeamID, dayAgo)
	if err != nil {
		return nil, err
	}
	resp.MostActiveTeam = &models.MostActiveTeam{
		TeamID:               best.TeamID,
		TeamName:             best.TeamName,
		Activity:             best.Activity(),
		ActivityStatus:       recencyStatus(now, best.LastUpdated),
		ValidationsCompleted: best.ValidationsCompleted,
		QueriesExecuted:      best.QueriesExecuted,
		RecentQueries:        recentQueries,
		LastUpdated:          best.LastUpdated,
	}
	return resp, nil
}

// Team returns one team with the number of queries it ran in the last day.
func (s *LeaderboardService) Team(ctx context.Context, teamID string) (*models.TeamDetailResponse, error) {
	team, err := s.teams.GetTeam(ctx, teamID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	recent, err := s.activity.CountSince(ctx, teamID, s.clock.Now().Add(-recentWindow))
	if err != nil {
		return nil, err
	}
	return &models.TeamDetailResponse{Success: true, TeamData: team, RecentQueries: recent}, nil
}

// CreateTeam registers a team with zeroed counters.
func (s *LeaderboardService) CreateTeam(ctx context.Context, teamID, teamName string) (models.Team, error) {
	teamID, teamName = strings.TrimSpace(teamID), strings.TrimSpace(teamName)
	if teamID == "" || teamName == "" {
		return models.Team{}, fmt.Errorf("%w: team ID and team name are required", ErrInvalidRequest)
	}
	team, err := s.teams.CreateTeam(ctx, teamID, teamName)
	if err != nil {
		return models.Team{}, mapStoreErr(err)
	}
	s.log.Info("team created", zap.String("team_id", teamID), zap.String("team_name", teamName))
	return team, nil
}

// UpdateTeam applies relative increments. Counters never drop below zero. A positive
// query increment also records that many query events at the current time.
func (s *LeaderboardService) UpdateTeam(ctx context.Context, req models.UpdateTeamRequest) (models.Team, error) {
	if strings.TrimSpace(req.TeamID) == "" {
		return models.Team{}, fmt.Errorf("%w: team ID is required", ErrInvalidRequest)
	}
	team, err := s.teams.ApplyIncrements(ctx, req.TeamID, models.TeamDelta{
		Score:       req.ScoreIncrement,
		Validations: req.ValidationIncrement,
		Queries:     req.QueryIncrement,
	})
	if err != nil {
		return models.Team{}, mapStoreErr(err)
	}
	if req.QueryIncrement > 0 {
		// The counters are already committed, so a failure here only degrades the windows.
		if err := s.activity.RecordQueries(ctx, req.TeamID, req.QueryIncrement, team.LastUpdated); err != nil {
			s.log.Warn("failed to record query events", zap.String("team_id", req.TeamID), zap.Error(err))
		}
	}
	return team, nil
}

// DeleteTeam removes a team and its query history.
func (s *LeaderboardService) DeleteTeam(ctx context.Context, teamID string) error {
	if strings.TrimSpace(teamID) == "" {
		return fmt.Errorf("%w: team ID is required", ErrInvalidRequest)
	}
	if err := s.teams.DeleteTeam(ctx, teamID); err != nil {
		return mapStoreErr(err)
	}
	if err := s.activity.DeleteTeam(ctx, teamID); err != nil {
		s.log.Warn("failed to delete query history", zap.String("team_id", teamID), zap.Error(err))
	}
	s.log.Info("team deleted", zap.String("team_id", teamID))
	return nil
}

// PruneActivity drops query events older than the retention window for every team owns
// accepts. It returns how many events were removed.
func (s *LeaderboardService) PruneActivity(ctx context.Context, owns func(teamID string) bool) (int64, error) {
	teams, err := s.teams.GetAllTeams(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.clock.Now().Add(-s.retention)
	var removed int64
	for _, t := range teams {
		if !owns(t.TeamID) {
			continue
		}
		n, err := s.activity.Prune(ctx, t.TeamID, cutoff)
		if err != nil {
			s.log.Warn("failed to prune query events", zap.String("team_id", t.TeamID), zap.Error(err))
			continue
		}
		removed += n
	}
	return removed, nil
}

// mostActive picks the team with the highest activity plus bonus, preferring the most
// recently updated and then the lowest id. teams must not be empty.
func mostActive(teams []models.Team, bonus func(models.Team) int64) models.Team {
	return slices.MinFunc(teams, func(a, b models.Team) int {
		if c := cmp.Compare(b.Activity()+bonus(b), a.Activity()+bonus(a)); c != 0 {
			return c
		}
		if c := b.LastUpdated.Compare(a.LastUpdated); c != 0 {
			return c
		}
		return strings.Compare(a.TeamID, b.TeamID)
	})
}

func recencyBonus(now, lastUpdated time.Time) int64 {
	switch age := now.Sub(lastUpdated); {
	case age <= veryActiveWindow:
		return 20
	case age <= activeWindow:
		return 10
	case age <= recentWindow:
		return 5
	default:
		return 0
	}
}

func recencyStatus(now, lastUpdated time.Time) string {
	switch age := now.Sub(lastUpdated); {
	case age <= veryActiveWindow:
		return "Very Active"
	case age <= activeWindow:
		return "Active"
	case age <= recentWindow:
		return "Recently Active"
	default:
		return "Inactive"
	}
}
