// leaderboard/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/leaderboard/service"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/api"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
)

const requestTimeout = 5 * time.Second

// LeaderboardAPIHandlers holds references to the services that handle business logic.
type LeaderboardAPIHandlers struct {
	log          *zap.Logger
	Service      *service.LeaderboardService
	defaultLimit int
}

// NewLeaderboardAPIHandlers is the constructor for the API handlers. defaultLimit is the
// size of GET /leaderboard when no limit is given.
func NewLeaderboardAPIHandlers(log *zap.Logger, svc *service.LeaderboardService, defaultLimit int) *LeaderboardAPIHandlers {
	return &LeaderboardAPIHandlers{
		log:          log,
		Service:      svc,
		defaultLimit: defaultLimit,
	}
}

// RegisterRoutes registers all API routes with the given router.
func (h *LeaderboardAPIHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/leaderboard", h.GetLeaderboardHandler).Methods("GET")
	router.HandleFunc("/leaderboard/stats", h.GetStatsHandler).Methods("GET")
	router.HandleFunc("/leaderboard/rankings", h.GetRankingsHandler).Methods("GET")
	router.HandleFunc("/leaderboard/activity", h.GetActivityHandler).Methods("GET")
	router.HandleFunc("/leaderboard/team/{team_id}", h.GetTeamHandler).Methods("GET")
	router.HandleFunc("/leaderboard/team/{team_id}", h.DeleteTeamHandler).Methods("DELETE")
	router.HandleFunc("/leaderboard/create-team", h.CreateTeamHandler).Methods("POST")
	router.HandleFunc("/leaderboard/update", h.UpdateTeamHandler).Methods("POST")
}

// GetLeaderboardHandler returns teams in score order. limit=0 returns every team.
// GET /leaderboard?limit=N
func (h *LeaderboardAPIHandlers) GetLeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	limit := h.defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			api.WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	teams, err := h.Service.Leaderboard(ctx, limit)
	if err != nil {
		h.log.Error("failed to get leaderboard", zap.Error(err))
		api.WriteInternalServerError(w, "Failed to retrieve leaderboard")
		return
	}

	records := make([]models.TeamRecord, len(teams))
	for i, t := range teams {
		records[i] = t.Record()
	}
	api.WriteJSON(w, http.StatusOK, models.LeaderboardResponse{
		Success:     true,
		Leaderboard: records,
		TotalTeams:  len(records),
	})
}

// GetStatsHandler returns the aggregate statistics.
// GET /leaderboard/stats
func (h *LeaderboardAPIHandlers) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	stats, err := h.Service.Stats(ctx)
	if err != nil {
		h.log.Error("failed to get stats", zap.Error(err))
		api.WriteInternalServerError(w, "Failed to retrieve stats")
		return
	}
	api.WriteJSON(w, http.StatusOK, models.StatsResponse{Success: true, Stats: stats})
}

// GetRankingsHandler returns the top teams per category.
// GET /leaderboard/rankings
func (h *LeaderboardAPIHandlers) GetRankingsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	rankings, err := h.Service.Rankings(ctx)
	if err != nil {
		h.log.Error("failed to get rankings", zap.Error(err))
		api.WriteInternalServerError(w, "Failed to retrieve rankings")
		return
	}
	api.WriteJSON(w, http.StatusOK, models.RankingsResponse{Success: true, Rankings: rankings})
}

// GetActivityHandler returns recent activity and the most active team.
// GET /leaderboard/activity
func (h *LeaderboardAPIHandlers) GetActivityHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	activity, err := h.Service.Activity(ctx)
	if err != nil {
		h.log.Error("failed to get activity", zap.Error(err))
		api.WriteInternalServerError(w, "Failed to retrieve activity")
		return
	}
	api.WriteJSON(w, http.StatusOK, activity)
}

// GetTeamHandler returns a single team.
// GET /leaderboard/team/{team_id}
func (h *LeaderboardAPIHandlers) GetTeamHandler(w http.ResponseWriter, r *http.Request) {
	teamID := mux.Vars(r)["team_id"]

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	detail, err := h.Service.Team(ctx, teamID)
	if err != nil {
		h.writeServiceError(w, "get team", teamID, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, detail)
}

// CreateTeamHandler creates a team with zeroed counters.
// POST /leaderboard/create-team
func (h *LeaderboardAPIHandlers) CreateTeamHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	team, err := h.Service.CreateTeam(ctx, req.TeamID, req.TeamName)
	if err != nil {
		h.writeServiceError(w, "create team", req.TeamID, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, models.MutationResponse{
		Success:  true,
		Message:  "Team created successfully",
		TeamID:   team.TeamID,
		TeamName: team.TeamName,
	})
}

// UpdateTeamHandler applies relative counter increments.
// POST /leaderboard/update
func (h *LeaderboardAPIHandlers) UpdateTeamHandler(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	team, err := h.Service.UpdateTeam(ctx, req)
	if err != nil {
		h.writeServiceError(w, "update team", req.TeamID, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, models.MutationResponse{
		Success:  true,
		Message:  "Team score updated successfully",
		TeamID:   team.TeamID,
		TeamName: team.TeamName,
	})
}

// DeleteTeamHandler removes a team and its query history.
// DELETE /leaderboard/team/{team_id}
func (h *LeaderboardAPIHandlers) DeleteTeamHandler(w http.ResponseWriter, r *http.Request) {
	teamID := mux.Vars(r)["team_id"]

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.Service.DeleteTeam(ctx, teamID); err != nil {
		h.writeServiceError(w, "delete team", teamID, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, models.MutationResponse{
		Success: true,
		Message: "Team deleted successfully",
		TeamID:  teamID,
	})
}

// writeServiceError maps service-layer errors to HTTP status codes.
func (h *LeaderboardAPIHandlers) writeServiceError(w http.ResponseWriter, op, teamID string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		api.WriteBadRequest(w, err.Error())
	case errors.Is(err, service.ErrTeamNotFound):
		api.WriteNotFound(w, fmt.Sprintf("Team %s not found", teamID))
	case errors.Is(err, service.ErrTeamExists):
		api.WriteConflict(w, fmt.Sprintf("Team %s already exists", teamID))
	default:
		h.log.Error("leaderboard request failed", zap.String("op", op), zap.String("team_id", teamID), zap.Error(err))
		api.WriteInternalServerError(w, fmt.Sprintf("Failed to %s", op))
	}
}
