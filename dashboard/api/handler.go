// dashboard/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/engine"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/mutation"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/api"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/ranking"
)

// Dashboard is the engine surface the HTTP layer needs.
type Dashboard interface {
	Snapshot() *engine.Snapshot
	Subscribe() (<-chan *engine.Snapshot, func())
	Refresh(ctx context.Context) error
	CreateTeam(ctx context.Context, teamID, teamName string) (mutation.Result, error)
	UpdateTeam(ctx context.Context, teamID string, delta mutation.Delta) (mutation.Result, error)
	DeleteTeam(ctx context.Context, teamID string) (mutation.Result, error)
}

// DashboardAPIHandlers serves the live leaderboard to the presentation layer.
type DashboardAPIHandlers struct {
	log             *zap.Logger
	dashboard       Dashboard
	mutationTimeout time.Duration
	pingInterval    time.Duration
}

func NewDashboardAPIHandlers(log *zap.Logger, d Dashboard, mutationTimeout time.Duration) *DashboardAPIHandlers {
	if mutationTimeout <= 0 {
		mutationTimeout = 10 * time.Second
	}
	return &DashboardAPIHandlers{
		log:             log,
		dashboard:       d,
		mutationTimeout: mutationTimeout,
		pingInterval:    30 * time.Second,
	}
}

// RegisterRoutes mounts every dashboard route on r.
func (h *DashboardAPIHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/dashboard/snapshot", h.GetSnapshotHandler).Methods(http.MethodGet)
	r.HandleFunc("/dashboard/rankings/{view}", h.GetRankingHandler).Methods(http.MethodGet)
	r.HandleFunc("/dashboard/refresh", h.RefreshHandler).Methods(http.MethodPost)
	r.HandleFunc("/dashboard/ws", h.StreamHandler).Methods(http.MethodGet)
	r.HandleFunc("/dashboard/teams", h.CreateTeamHandler).Methods(http.MethodPost)
	r.HandleFunc("/dashboard/teams/{team_id}/update", h.UpdateTeamHandler).Methods(http.MethodPost)
	r.HandleFunc("/dashboard/teams/{team_id}", h.DeleteTeamHandler).Methods(http.MethodDelete)
}

type SnapshotResponse struct {
	Success  bool             `json:"success"`
	Snapshot *engine.Snapshot `json:"snapshot"`
}

type RankingResponse struct {
	Success bool          `json:"success"`
	View    ranking.View  `json:"view"`
	Version uint64        `json:"version"`
	Ranking []models.Team `json:"ranking"`
}

type UpdateRequest struct {
	ScoreIncrement      int64 `json:"score_increment"`
	ValidationIncrement int64 `json:"validation_increment"`
	QueryIncrement      int64 `json:"query_increment"`
}

type MutationResponse struct {
	Success   bool           `json:"success"`
	RequestID string         `json:"request_id"`
	Op        mutation.Op    `json:"op"`
	TeamID    string         `json:"team_id"`
	Message   string         `json:"message,omitempty"`
	Applied   *UpdateRequest `json:"applied,omitempty"`
	Underflow bool           `json:"underflow,omitempty"`
	Refreshed bool           `json:"refreshed"`
}

// GetSnapshotHandler returns the current snapshot.
// GET /dashboard/snapshot
func (h *DashboardAPIHandlers) GetSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, SnapshotResponse{Success: true, Snapshot: h.dashboard.Snapshot()})
}

// GetRankingHandler returns one projection, optionally truncated with ?limit=N.
// GET /dashboard/rankings/{view}
func (h *DashboardAPIHandlers) GetRankingHandler(w http.ResponseWriter, r *http.Request) {
	view, ok := ranking.ParseView(mux.Vars(r)["view"])
	if !ok {
		api.WriteNotFound(w, "Unknown ranking view")
		return
	}
	snap := h.dashboard.Snapshot()
	list := snap.Ranking(view)

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			api.WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
		if limit > 0 && limit < len(list) {
			list = list[:limit]
		}
	}
	if list == nil {
		list = []models.Team{}
	}
	api.WriteJSON(w, http.StatusOK, RankingResponse{Success: true, View: view, Version: snap.Version, Ranking: list})
}

// RefreshHandler forces an immediate full refresh.
// POST /dashboard/refresh
func (h *DashboardAPIHandlers) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.mutationTimeout)
	defer cancel()

	if err := h.dashboard.Refresh(ctx); err != nil {
		h.writeMutationError(w, "refresh", "", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, SnapshotResponse{Success: true, Snapshot: h.dashboard.Snapshot()})
}

// CreateTeamHandler creates a team.
// POST /dashboard/teams
func (h *DashboardAPIHandlers) CreateTeamHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.mutationTimeout)
	defer cancel()

	res, err := h.dashboard.CreateTeam(ctx, req.TeamID, req.TeamName)
	if err != nil {
		h.writeMutationError(w, "create", req.TeamID, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, toResponse(res))
}

// UpdateTeamHandler applies relative increments to a team. Omitted increments are zero.
// POST /dashboard/teams/{team_id}/update
func (h *DashboardAPIHandlers) UpdateTeamHandler(w http.ResponseWriter, r *http.Request) {
	teamID := mux.Vars(r)["team_id"]

	var req UpdateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.mutationTimeout)
	defer cancel()

	res, err := h.dashboard.UpdateTeam(ctx, teamID, mutation.Delta{
		Score:       req.ScoreIncrement,
		Validations: req.ValidationIncrement,
		Queries:     req.QueryIncrement,
	})
	if err != nil {
		h.writeMutationError(w, "update", teamID, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toResponse(res))
}

// DeleteTeamHandler deletes a team.
// DELETE /dashboard/teams/{team_id}
func (h *DashboardAPIHandlers) DeleteTeamHandler(w http.ResponseWriter, r *http.Request) {
	teamID := mux.Vars(r)["team_id"]

	ctx, cancel := context.WithTimeout(r.Context(), h.mutationTimeout)
	defer cancel()

	res, err := h.dashboard.DeleteTeam(ctx, teamID)
	if err != nil {
		h.writeMutationError(w, "delete", teamID, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toResponse(res))
}

func toResponse(res mutation.Result) MutationResponse {
	out := MutationResponse{
		Success:   true,
		RequestID: res.RequestID.String(),
		Op:        res.Op,
		TeamID:    res.TeamID,
		Message:   res.Message,
		Underflow: res.Underflow,
		Refreshed: res.Refreshed,
	}
	if res.Op == mutation.OpUpdate {
		out.Applied = &UpdateRequest{
			ScoreIncrement:      res.Applied.Score,
			ValidationIncrement: res.Applied.Validations,
			QueryIncrement:      res.Applied.Queries,
		}
	}
	return out
}

func (h *DashboardAPIHandlers) writeMutationError(w http.ResponseWriter, op, teamID string, err error) {
	switch {
	case errors.Is(err, mutation.ErrInvalidRequest):
		api.WriteBadRequest(w, err.Error())
	case errors.Is(err, mutation.ErrConflict):
		api.WriteConflict(w, "Team already exists")
	case errors.Is(err, mutation.ErrNotFound):
		api.WriteNotFound(w, "Team not found")
	case errors.Is(err, engine.ErrClosed):
		api.WriteServiceUnavailable(w, "Dashboard is shutting down")
	case errors.Is(err, mutation.ErrRejected):
		api.WriteError(w, http.StatusBadGateway, err.Error())
	default:
		h.log.Error("mutation failed", zap.String("op", op), zap.String("team_id", teamID), zap.Error(err))
		api.WriteError(w, http.StatusBadGateway, "Leaderboard service unavailable")
	}
}
