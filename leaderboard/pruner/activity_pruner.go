package pruner

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ActivityService removes expired query events for the teams owns accepts.
type ActivityService interface {
	PruneActivity(ctx context.Context, owns func(teamID string) bool) (int64, error)
}

// Assigner decides which instance owns a team. *cluster.ServiceAssignmentManager satisfies it.
type Assigner interface {
	IsResponsible(entityID string) (bool, error)
}

// ActivityPruner periodically drops query events older than the retention window. Each
// leaderboard instance only prunes the teams the hash ring assigns to it.
type ActivityPruner struct {
	log      *zap.Logger
	service  ActivityService
	assigner Assigner
	interval time.Duration
	clock    clockwork.Clock
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewActivityPruner creates a new ActivityPruner instance.
func NewActivityPruner(log *zap.Logger, svc ActivityService, assigner Assigner, interval time.Duration, clock clockwork.Clock) *ActivityPruner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ActivityPruner{
		log:      log,
		service:  svc,
		assigner: assigner,
		interval: interval,
		clock:    clock,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs the prune loop until Stop. This should be run in a goroutine.
func (p *ActivityPruner) Start() {
	p.log.Info("activity pruner starting", zap.Duration("interval", p.interval))
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.log.Info("activity pruner shutting down")
			return
		case <-ticker.Chan():
			p.pruneOnce()
		}
	}
}

// Stop gracefully stops the prune loop.
func (p *ActivityPruner) Stop() {
	p.cancel()
}

func (p *ActivityPruner) pruneOnce() {
	ctx, cancel := context.WithTimeout(p.ctx, p.interval)
	defer cancel()

	removed, err := p.service.PruneActivity(ctx, p.owns)
	if err != nil {
		p.log.Error("activity prune failed", zap.Error(err))
		return
	}
	if removed > 0 {
		p.log.Debug("pruned expired query events", zap.Int64("removed", removed))
	}
}

func (p *ActivityPruner) owns(teamID string) bool {
	ok, err := p.assigner.IsResponsible(teamID)
	if err != nil {
		p.log.Warn("failed to check responsibility", zap.String("team_id", teamID), zap.Error(err))
		return false
	}
	return ok
}
