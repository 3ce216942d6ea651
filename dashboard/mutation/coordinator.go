package mutation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/merger"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/metrics"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/api"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
)

var (
	ErrConflict       = errors.New("team already exists")
	ErrNotFound       = errors.New("team not found")
	ErrInvalidRequest = errors.New("invalid team mutation")
	ErrRejected       = errors.New("mutation rejected by leaderboard service")
)

// Delta is a relative counter adjustment. Zero fields leave the counter unchanged.
type Delta = models.TeamDelta

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Remote is the authoritative leaderboard service.
type Remote interface {
	CreateTeam(ctx context.Context, teamID, teamName string) (*models.MutationResponse, error)
	UpdateTeam(ctx context.Context, req models.UpdateTeamRequest) (*models.MutationResponse, error)
	DeleteTeam(ctx context.Context, teamID string) (*models.MutationResponse, error)
}

// Canonical is the local state the coordinator checks against and removes from.
type Canonical interface {
	Team(teamID string) (models.Team, bool)
	RemoveTeam(teamID string, at time.Time) bool
	ReportAnomaly(a merger.Anomaly)
}

type Refresher interface {
	ForceRefresh(ctx context.Context) error
}

// Pending is an acknowledged mutation that no authoritative snapshot has confirmed yet.
type Pending struct {
	ID      uuid.UUID
	Op      Op
	TeamID  string
	AckedAt time.Time
}

type Result struct {
	RequestID uuid.UUID
	Op        Op
	TeamID    string
	// Applied is the delta sent to the leaderboard service, exactly as requested.
	Applied   Delta
	// Underflow is set when the cached counters predicted a negative result. The service
	// clamps at zero itself.
	Underflow bool
	Refreshed bool
	Message   string
}

type Config struct {
	Clock   clockwork.Clock
	Timeout time.Duration
}

// Coordinator validates team mutations locally, forwards them to the remote service and
// reconciles the canonical state afterwards. Nothing destructive happens locally before
// the remote acknowledges, and failed calls are returned, never retried.
type Coordinator struct {
	log       *zap.Logger
	clock     clockwork.Clock
	timeout   time.Duration
	remote    Remote
	canonical Canonical
	refresher Refresher

	mu      sync.Mutex
	pending map[uuid.UUID]Pending
}

func New(log *zap.Logger, cfg Config, remote Remote, canonical Canonical, refresher Refresher) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Coordinator{
		log:       log,
		clock:     cfg.Clock,
		timeout:   cfg.Timeout,
		remote:    remote,
		canonical: canonical,
		refresher: refresher,
		pending:   make(map[uuid.UUID]Pending),
	}
}

// Create registers a new team. The id must not already be known locally.
func (c *Coordinator) Create(ctx context.Context, teamID, teamName string) (Result, error) {
	teamID, teamName = strings.TrimSpace(teamID), strings.TrimSpace(teamName)
	if teamID == "" || teamName == "" {
		return c.fail(OpCreate, fmt.Errorf("%w: team_id and team_name are required", ErrInvalidRequest))
	}
	if _, ok := c.canonical.Team(teamID); ok {
		return c.fail(OpCreate, fmt.Errorf("%w: %s", ErrConflict, teamID))
	}

	id := uuid.New()
	log := c.log.With(zap.String("request_id", id.String()), zap.String("op", string(OpCreate)), zap.String("team_id", teamID))

	rctx, cancel := context.WithTimeout(api.WithRequestID(ctx, id.String()), c.timeout)
	resp, err := c.remote.CreateTeam(rctx, teamID, teamName)
	cancel()
	if err != nil {
		log.Info("create rejected", zap.Error(err))
		return c.fail(OpCreate, mapRemote(teamID, err))
	}

	res := Result{RequestID: id, Op: OpCreate, TeamID: teamID, Message: resp.Message}
	c.confirm(ctx, log, &res)
	return res, nil
}

// Update sends a relative delta for a known team. The delta goes out unchanged: the cached
// counters may lag the service, which clamps at zero. Components the cached counters say
// would go negative are reported as underflows once the service accepts the update.
func (c *Coordinator) Update(ctx context.Context, teamID string, delta Delta) (Result, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return c.fail(OpUpdate, fmt.Errorf("%w: team_id is required", ErrInvalidRequest))
	}
	team, ok := c.canonical.Team(teamID)
	if !ok {
		return c.fail(OpUpdate, fmt.Errorf("%w: %s", ErrNotFound, teamID))
	}

	predicted := underflows(team, delta)

	id := uuid.New()
	log := c.log.With(zap.String("request_id", id.String()), zap.String("op", string(OpUpdate)), zap.String("team_id", teamID))

	rctx, cancel := context.WithTimeout(api.WithRequestID(ctx, id.String()), c.timeout)
	resp, err := c.remote.UpdateTeam(rctx, models.UpdateTeamRequest{
		TeamID:              teamID,
		ScoreIncrement:      delta.Score,
		ValidationIncrement: delta.Validations,
		QueryIncrement:      delta.Queries,
	})
	cancel()
	if err != nil {
		log.Info("update rejected", zap.Error(err))
		return c.fail(OpUpdate, mapRemote(teamID, err))
	}

	for _, a := range predicted {
		c.canonical.ReportAnomaly(a)
	}

	res := Result{RequestID: id, Op: OpUpdate, TeamID: teamID, Applied: delta, Underflow: len(predicted) > 0, Message: resp.Message}
	c.confirm(ctx, log, &res)
	return res, nil
}

// Delete removes a team remotely and, once acknowledged, from the canonical state right away.
// Feeds fetched before the acknowledgment cannot bring the team back.
func (c *Coordinator) Delete(ctx context.Context, teamID string) (Result, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return c.fail(OpDelete, fmt.Errorf("%w: team_id is required", ErrInvalidRequest))
	}
	if _, ok := c.canonical.Team(teamID); !ok {
		return c.fail(OpDelete, fmt.Errorf("%w: %s", ErrNotFound, teamID))
	}

	id := uuid.New()
	log := c.log.With(zap.String("request_id", id.String()), zap.String("op", string(OpDelete)), zap.String("team_id", teamID))

	rctx, cancel := context.WithTimeout(api.WithRequestID(ctx, id.String()), c.timeout)
	resp, err := c.remote.DeleteTeam(rctx, teamID)
	cancel()
	if err != nil {
		log.Info("delete rejected", zap.Error(err))
		return c.fail(OpDelete, mapRemote(teamID, err))
	}

	c.canonical.RemoveTeam(teamID, c.clock.Now())

	res := Result{RequestID: id, Op: OpDelete, TeamID: teamID, Message: resp.Message}
	c.confirm(ctx, log, &res)
	return res, nil
}

// Reconcile drops pending mutations acknowledged at or before an authoritative fetch issued at fetchedAt.
func (c *Coordinator) Reconcile(fetchedAt time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, p := range c.pending {
		if !fetchedAt.Before(p.AckedAt) {
			delete(c.pending, id)
			n++
		}
	}
	metrics.PendingMutations.Set(float64(len(c.pending)))
	return n
}

// Pending returns the mutations still awaiting reconciliation.
func (c *Coordinator) Pending() []Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Pending, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p)
	}
	return out
}

// confirm records the acknowledged mutation and forces a refresh. A failed refresh leaves the
// mutation pending for the next scheduled snapshot; it does not fail the mutation.
func (c *Coordinator) confirm(ctx context.Context, log *zap.Logger, res *Result) {
	metrics.Mutations.WithLabelValues(string(res.Op), "ok").Inc()

	c.mu.Lock()
	c.pending[res.RequestID] = Pending{ID: res.RequestID, Op: res.Op, TeamID: res.TeamID, AckedAt: c.clock.Now()}
	metrics.PendingMutations.Set(float64(len(c.pending)))
	c.mu.Unlock()

	if c.refresher == nil {
		return
	}
	if err := c.refresher.ForceRefresh(ctx); err != nil {
		log.Warn("refresh after mutation failed, waiting for next scheduled snapshot", zap.Error(err))
		return
	}
	res.Refreshed = true
	log.Debug("mutation reconciled")
}

// underflows lists the counters of team that d would drive below zero.
func underflows(team models.Team, d Delta) []merger.Anomaly {
	var out []merger.Anomaly
	check := func(field string, current, delta int64) {
		if current+delta >= 0 {
			return
		}
		out = append(out, merger.Anomaly{
			Kind:   merger.AnomalyCounterUnderflow,
			TeamID: team.TeamID,
			Field:  field,
			Detail: fmt.Sprintf("delta %d on cached %d goes below zero", delta, current),
		})
	}
	check("score", team.Score, d.Score)
	check("validations_completed", team.ValidationsCompleted, d.Validations)
	check("queries_executed", team.QueriesExecuted, d.Queries)
	return out
}

func (c *Coordinator) fail(op Op, err error) (Result, error) {
	result := "error"
	switch {
	case errors.Is(err, ErrConflict):
		result = "conflict"
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrInvalidRequest):
		result = "invalid"
	case errors.Is(err, ErrRejected):
		result = "rejected"
	}
	metrics.Mutations.WithLabelValues(string(op), result).Inc()
	return Result{Op: op}, err
}

func mapRemote(teamID string, err error) error {
	switch {
	case errors.Is(err, api.ErrConflict):
		return fmt.Errorf("%w: %s: %w", ErrConflict, teamID, err)
	case errors.Is(err, api.ErrNotFound):
		return fmt.Errorf("%w: %s: %w", ErrNotFound, teamID, err)
	case errors.Is(err, api.ErrBadRequest):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	case errors.Is(err, api.ErrUnsuccessful):
		return fmt.Errorf("%w: %w", ErrRejected, err)
	default:
		return err
	}
}
