// leaderboard/store/team_store.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
)

var (
	ErrTeamExists   = errors.New("team already exists")
	ErrTeamNotFound = errors.New("team not found")
)

// TeamStore represents the MongoDB data store for team counters.
type TeamStore struct {
	log        *zap.Logger
	collection *mongo.Collection
	clock      clockwork.Clock
}

// NewTeamStore creates a new TeamStore instance.
func NewTeamStore(log *zap.Logger, collection *mongo.Collection, clock clockwork.Clock) *TeamStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TeamStore{
		log:        log,
		collection: collection,
		clock:      clock,
	}
}

// EnsureTeamsExist initializes default team documents if they don't exist.
// Existing teams keep their counters and name.
func (ts *TeamStore) EnsureTeamsExist(ctx context.Context, teams []models.Team) error {
	for _, team := range teams {
		now := ts.clock.Now()
		filter := bson.M{"_id": team.TeamID}
		update := bson.M{
			"$setOnInsert": bson.M{
				"team_name":             team.TeamName,
				"score":                 int64(0),
				"validations_completed": int64(0),
				"queries_executed":      int64(0),
				"created_at":            now,
				"last_updated":          now,
			},
		}
		opts := options.Update().SetUpsert(true)

		result, err := ts.collection.UpdateOne(ctx, filter, update, opts)
		if err != nil {
			return fmt.Errorf("failed to upsert team %s: %w", team.TeamID, err)
		}
		if result.UpsertedID != nil {
			ts.log.Info("initialized team", zap.String("team_id", team.TeamID), zap.String("team_name", team.TeamName))
		}
	}
	return nil
}

// CreateTeam inserts a team with zeroed counters.
func (ts *TeamStore) CreateTeam(ctx context.Context, teamID, teamName string) (models.Team, error) {
	now := ts.clock.Now()
	team := models.Team{
		TeamID:      teamID,
		TeamName:    teamName,
		LastUpdated: now,
		CreatedAt:   &now,
	}
	if _, err := ts.collection.InsertOne(ctx, team); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.Team{}, fmt.Errorf("team %s: %w", teamID, ErrTeamExists)
		}
		return models.Team{}, fmt.Errorf("failed to create team %s: %w", teamID, err)
	}
	return team, nil
}

// GetTeam retrieves a single team.
func (ts *TeamStore) GetTeam(ctx context.Context, teamID string) (models.Team, error) {
	var team models.Team
	err := ts.collection.FindOne(ctx, bson.M{"_id": teamID}).Decode(&team)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Team{}, fmt.Errorf("team %s: %w", teamID, ErrTeamNotFound)
		}
		return models.Team{}, fmt.Errorf("failed to get team %s: %w", teamID, err)
	}
	return team, nil
}

// GetAllTeams retrieves all team documents.
func (ts *TeamStore) GetAllTeams(ctx context.Context) ([]models.Team, error) {
	teams := []models.Team{}
	cursor, err := ts.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to find all teams: %w", err)
	}
	defer cursor.Close(ctx)

	if err = cursor.All(ctx, &teams); err != nil {
		return nil, fmt.Errorf("failed to decode all teams: %w", err)
	}
	return teams, nil
}

// ApplyIncrements atomically adds delta to a team's counters, clamping each at zero, and
// stamps last_updated. It returns the updated team.
func (ts *TeamStore) ApplyIncrements(ctx context.Context, teamID string, delta models.TeamDelta) (models.Team, error) {
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "score", Value: clampedAdd("$score", delta.Score)},
			{Key: "validations_completed", Value: clampedAdd("$validations_completed", delta.Validations)},
			{Key: "queries_executed", Value: clampedAdd("$queries_executed", delta.Queries)},
			{Key: "last_updated", Value: ts.clock.Now()},
		}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var team models.Team
	err := ts.collection.FindOneAndUpdate(ctx, bson.M{"_id": teamID}, update, opts).Decode(&team)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Team{}, fmt.Errorf("team %s: %w", teamID, ErrTeamNotFound)
		}
		return models.Team{}, fmt.Errorf("failed to update counters for team %s: %w", teamID, err)
	}
	return team, nil
}

// clampedAdd is the aggregation expression max(0, field + inc).
func clampedAdd(field string, inc int64) bson.D {
	return bson.D{{Key: "$max", Value: bson.A{
		int64(0),
		bson.D{{Key: "$add", Value: bson.A{field, inc}}},
	}}}
}

// DeleteTeam removes a team document.
func (ts *TeamStore) DeleteTeam(ctx context.Context, teamID string) error {
	res, err := ts.collection.DeleteOne(ctx, bson.M{"_id": teamID})
	if err != nil {
		return fmt.Errorf("failed to delete team %s: %w", teamID, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("team %s: %w", teamID, ErrTeamNotFound)
	}
	return nil
}
