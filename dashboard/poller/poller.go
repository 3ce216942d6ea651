// Package poller drives the two refresh cadences of the dashboard: a fast activity feed
// and a slow full snapshot (leaderboard, stats and rankings).
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/merger"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/metrics"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
)

var ErrStopped = errors.New("poller stopped")

// Source is the remote data service.
type Source interface {
	GetLeaderboard(ctx context.Context, limit int) (*models.LeaderboardResponse, error)
	GetStats(ctx context.Context) (*models.StatsSummary, error)
	GetRankings(ctx context.Context) (map[string][]models.Team, error)
	GetActivity(ctx context.Context) (*models.ActivityResponse, error)
}

// Result is one successful fetch of a feed.
type Result struct {
	Feed     merger.Feed
	Incoming merger.Incoming
	// ServerRankings is only set by the snapshot feed, and only when the rankings call succeeded.
	ServerRankings map[string][]models.Team
	FetchedAt      time.Time
}

// Sink receives fetch outcomes. Calls may arrive concurrently from different feeds.
type Sink interface {
	ApplyFeed(res Result)
	FeedFailed(feed merger.Feed, err error)
}

type Config struct {
	Clock            clockwork.Clock
	ActivityInterval time.Duration
	SnapshotInterval time.Duration
	FetchTimeout     time.Duration
	// LeaderboardLimit is passed to GetLeaderboard. 0 requests every team.
	LeaderboardLimit int
}

func (c *Config) Validate() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.ActivityInterval <= 0 {
		return errors.New("activity interval must be greater than 0")
	}
	if c.SnapshotInterval <= 0 {
		return errors.New("snapshot interval must be greater than 0")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("fetch timeout must be greater than 0")
	}
	if c.LeaderboardLimit < 0 {
		return errors.New("leaderboard limit must not be negative")
	}
	return nil
}

// Scheduler polls each feed on its own ticker with at most one request in flight per feed.
// A tick that finds the previous fetch of its feed unresolved is skipped, not queued.
type Scheduler struct {
	log  *zap.Logger
	cfg  Config
	src  Source
	sink Sink

	inflight map[merger.Feed]*atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex // orders launches against Stop
	wg     sync.WaitGroup
}

func New(log *zap.Logger, cfg Config, src Source, sink Sink) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid poller config: %w", err)
	}
	if src == nil || sink == nil {
		return nil, errors.New("poller requires a source and a sink")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:  log,
		cfg:  cfg,
		src:  src,
		sink: sink,
		inflight: map[merger.Feed]*atomic.Bool{
			merger.FeedActivity: {},
			merger.FeedSnapshot: {},
		},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start loads both feeds once and then polls until Stop. It blocks; run it in a goroutine.
func (s *Scheduler) Start() {
	s.log.Info("poller starting",
		zap.Duration("activity_interval", s.cfg.ActivityInterval),
		zap.Duration("snapshot_interval", s.cfg.SnapshotInterval))

	activity := s.cfg.Clock.NewTicker(s.cfg.ActivityInterval)
	defer activity.Stop()
	snapshot := s.cfg.Clock.NewTicker(s.cfg.SnapshotInterval)
	defer snapshot.Stop()

	s.tick(merger.FeedSnapshot)
	s.tick(merger.FeedActivity)

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("poller shutting down")
			return
		case <-activity.Chan():
			s.tick(merger.FeedActivity)
		case <-snapshot.Chan():
			s.tick(merger.FeedSnapshot)
		}
	}
}

// Stop cancels in-flight fetches and waits for their goroutines. Results that complete
// afterwards are discarded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

// tick launches a background fetch of feed unless one is already running.
// It reports whether a fetch was launched.
func (s *Scheduler) tick(feed merger.Feed) bool {
	flag := s.inflight[feed]
	if !flag.CompareAndSwap(false, true) {
		metrics.SkippedTicks.WithLabelValues(string(feed)).Inc()
		s.log.Debug("skipping tick, previous fetch still in flight", zap.String("feed", string(feed)))
		return false
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		flag.Store(false)
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer flag.Store(false)

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.FetchTimeout)
		defer cancel()
		_ = s.run(ctx, feed)
	}()
	return true
}

// ForceRefresh fetches the snapshot feed immediately, ignoring any fetch already in flight,
// and returns once the result has been handed to the sink.
func (s *Scheduler) ForceRefresh(ctx context.Context) error {
	if s.ctx.Err() != nil {
		return ErrStopped
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.run(ctx, merger.FeedSnapshot)
}

// run performs one fetch of feed and delivers the outcome unless the scheduler stopped meanwhile.
func (s *Scheduler) run(ctx context.Context, feed merger.Feed) error {
	fetchedAt := s.cfg.Clock.Now()
	start := time.Now()

	var (
		res Result
		err error
	)
	switch feed {
	case merger.FeedActivity:
		res, err = s.fetchActivity(ctx)
	default:
		res, err = s.fetchSnapshot(ctx)
	}
	metrics.FeedFetchDuration.WithLabelValues(string(feed)).Observe(time.Since(start).Seconds())

	if s.ctx.Err() != nil {
		metrics.DiscardedResults.WithLabelValues(string(feed)).Inc()
		return ErrStopped
	}
	if err != nil {
		metrics.FeedFetches.WithLabelValues(string(feed), "error").Inc()
		s.log.Warn("feed fetch failed, keeping previous data", zap.String("feed", string(feed)), zap.Error(err))
		s.sink.FeedFailed(feed, err)
		return err
	}

	metrics.FeedFetches.WithLabelValues(string(feed), "ok").Inc()
	res.Feed = feed
	res.FetchedAt = fetchedAt
	s.sink.ApplyFeed(res)
	return nil
}

func (s *Scheduler) fetchActivity(ctx context.Context) (Result, error) {
	resp, err := s.src.GetActivity(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Incoming: merger.Incoming{
		Teams:             resp.RecentActivity,
		MostActive:        resp.MostActiveTeam,
		ActivityTimestamp: resp.ActivityTimestamp,
	}}, nil
}

// fetchSnapshot fetches leaderboard, stats and rankings concurrently. Leaderboard and stats
// must both succeed; rankings are advisory and a failure only drops them from the result.
func (s *Scheduler) fetchSnapshot(ctx context.Context) (Result, error) {
	var (
		board    *models.LeaderboardResponse
		stats    *models.StatsSummary
		rankings map[string][]models.Team
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		board, err = s.src.GetLeaderboard(gctx, s.cfg.LeaderboardLimit)
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = s.src.GetStats(gctx)
		return err
	})
	g.Go(func() error {
		r, err := s.src.GetRankings(gctx)
		if err != nil {
			if gctx.Err() == nil {
				s.log.Debug("rankings fetch failed", zap.Error(err))
			}
			return nil
		}
		rankings = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{
		Incoming: merger.Incoming{
			Teams: board.Leaderboard,
			Stats: stats,
		},
		ServerRankings: rankings,
	}, nil
}
