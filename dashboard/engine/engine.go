// Package engine is the dashboard's live leaderboard facade. It owns the canonical state,
// serializes every write to it, and hands out immutable snapshots to readers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/classifier"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/merger"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/metrics"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/mutation"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/dashboard/poller"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/models"
	"github.com/Ftotnem/LEADERBOARD-SERVICES/shared/ranking"
)

var ErrClosed = errors.New("engine closed")

// Remote is everything the engine needs from the leaderboard service.
type Remote interface {
	poller.Source
	mutation.Remote
}

// Publisher forwards snapshots to collaborators outside the process.
type Publisher interface {
	Publish(ctx context.Context, snap *Snapshot) error
}

type Config struct {
	Clock            clockwork.Clock
	ActivityInterval time.Duration
	SnapshotInterval time.Duration
	FetchTimeout     time.Duration
	MutationTimeout  time.Duration
	// RankingLimit truncates each projection; 0 keeps every team.
	RankingLimit int
	Thresholds   classifier.Thresholds
	EventBuffer  int
}

func (c *Config) Validate() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.RankingLimit < 0 {
		return errors.New("ranking limit must not be negative")
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	if c.Thresholds == (classifier.Thresholds{}) {
		c.Thresholds = classifier.DefaultThresholds()
	}
	return nil
}

type Engine struct {
	log        *zap.Logger
	cfg        Config
	classifier *classifier.Classifier
	scheduler  *poller.Scheduler
	mutations  *mutation.Coordinator
	publisher  Publisher

	mu        sync.Mutex
	state     merger.State
	anomalies merger.AnomalyCounts
	closed    bool
	subs    map[uint64]chan *Snapshot
	nextSub uint64
	events  chan Event

	current atomic.Pointer[Snapshot]

	publishCh chan *Snapshot
	done      chan struct{}
	wg        sync.WaitGroup
}

// New builds an engine over remote. publisher may be nil.
func New(log *zap.Logger, cfg Config, remote Remote, publisher Publisher) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	cls, err := classifier.New(cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		log:        log,
		cfg:        cfg,
		classifier: cls,
		publisher:  publisher,
		state:      merger.NewState(),
		subs:       make(map[uint64]chan *Snapshot),
		events:     make(chan Event, cfg.EventBuffer),
		publishCh:  make(chan *Snapshot, 1),
		done:       make(chan struct{}),
	}

	e.scheduler, err = poller.New(log.Named("poller"), poller.Config{
		Clock:            cfg.Clock,
		ActivityInterval: cfg.ActivityInterval,
		SnapshotInterval: cfg.SnapshotInterval,
		FetchTimeout:     cfg.FetchTimeout,
	}, remote, e)
	if err != nil {
		return nil, err
	}
	e.mutations = mutation.New(log.Named("mutation"), mutation.Config{
		Clock:   cfg.Clock,
		Timeout: cfg.MutationTimeout,
	}, remote, e, e.scheduler)

	e.mu.Lock()
	e.publishLocked()
	e.mu.Unlock()
	return e, nil
}

// Start begins polling. It returns immediately.
func (e *Engine) Start() {
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.scheduler.Start()
	}()
	go func() {
		defer e.wg.Done()
		e.publishLoop()
	}()
}

// Close stops polling, closes subscriber and event channels and discards any fetch result
// that completes afterwards. It is safe to call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	metrics.Subscribers.Set(0)
	close(e.events)
	e.mu.Unlock()

	e.scheduler.Stop()
	close(e.done)
	e.wg.Wait()
}

// Snapshot returns the latest published snapshot. It never blocks on writers.
func (e *Engine) Snapshot() *Snapshot {
	return e.current.Load()
}

// Events delivers notifications for the presentation layer. Events are dropped when the
// buffer is full. The channel is closed by Close.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Subscribe returns a channel receiving every newer snapshot, starting with the current one.
// A slow subscriber only ever misses intermediate snapshots, never the latest.
func (e *Engine) Subscribe() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	metrics.Subscribers.Set(float64(len(e.subs)))
	ch <- e.current.Load()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if c, ok := e.subs[id]; ok {
				close(c)
				delete(e.subs, id)
				metrics.Subscribers.Set(float64(len(e.subs)))
			}
		})
	}
}

// Refresh forces an immediate snapshot fetch.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.isClosed() {
		return ErrClosed
	}
	return e.scheduler.ForceRefresh(ctx)
}

func (e *Engine) CreateTeam(ctx context.Context, teamID, teamName string) (mutation.Result, error) {
	if e.isClosed() {
		return mutation.Result{}, ErrClosed
	}
	return e.mutations.Create(ctx, teamID, teamName)
}

func (e *Engine) UpdateTeam(ctx context.Context, teamID string, delta mutation.Delta) (mutation.Result, error) {
	if e.isClosed() {
		return mutation.Result{}, ErrClosed
	}
	return e.mutations.Update(ctx, teamID, delta)
}

func (e *Engine) DeleteTeam(ctx context.Context, teamID string) (mutation.Result, error) {
	if e.isClosed() {
		return mutation.Result{}, ErrClosed
	}
	return e.mutations.Delete(ctx, teamID)
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// ApplyFeed merges a successful fetch into the canonical state.
func (e *Engine) ApplyFeed(res poller.Result) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		metrics.DiscardedResults.WithLabelValues(string(res.Feed)).Inc()
		return
	}

	next, report := merger.Merge(e.state, res.Incoming, res.Feed, res.FetchedAt)
	if res.Feed == merger.FeedSnapshot {
		next = merger.PruneTombstones(next, res.FetchedAt.Add(-(e.cfg.SnapshotInterval + e.cfg.FetchTimeout)))
	}
	e.state = next
	e.anomalies.Record(report)
	for _, a := range report.Anomalies {
		e.anomalyLocked(a, res.Feed)
	}
	if report.Stale > 0 {
		metrics.Anomalies.WithLabelValues(string(merger.AnomalyStaleWrite)).Add(float64(report.Stale))
	}
	if res.ServerRankings != nil {
		e.checkRankingsLocked(res.ServerRankings)
	}
	e.publishLocked()
	e.mu.Unlock()

	if res.Feed == merger.FeedSnapshot {
		e.mutations.Reconcile(res.FetchedAt)
	}

	e.log.Debug("feed applied",
		zap.String("feed", string(res.Feed)),
		zap.Int("inserted", report.Inserted),
		zap.Int("updated", report.Updated),
		zap.Int("stale", report.Stale),
		zap.Uint64("version", next.Version()))
}

// FeedFailed reports a transient fetch error. The previous data stays in place.
func (e *Engine) FeedFailed(feed merger.Feed, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.emitLocked(Event{Kind: EventTransientFetchError, Feed: feed, Detail: err.Error(), Err: err, At: e.cfg.Clock.Now()})
}

// Team looks a team up in the canonical state.
func (e *Engine) Team(teamID string) (models.Team, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Team(teamID)
}

// RemoveTeam drops a confirmed deleted team from the canonical state and every projection.
func (e *Engine) RemoveTeam(teamID string, at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	next, existed := merger.Remove(e.state, teamID, at)
	e.state = next
	e.publishLocked()
	return existed
}

// ReportAnomaly records an anomaly found outside a merge. The canonical state is untouched;
// the count shows up in the next published snapshot.
func (e *Engine) ReportAnomaly(a merger.Anomaly) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.anomalies.Add(a.Kind)
	e.anomalyLocked(a, "")
}

func (e *Engine) anomalyLocked(a merger.Anomaly, feed merger.Feed) {
	metrics.Anomalies.WithLabelValues(string(a.Kind)).Inc()
	e.log.Warn("data anomaly", zap.String("kind", string(a.Kind)), zap.String("team_id", a.TeamID), zap.String("field", a.Field), zap.String("detail", a.Detail))

	kind := EventMalformedRecord
	if a.Kind == merger.AnomalyCounterUnderflow {
		kind = EventCounterUnderflow
	}
	e.emitLocked(Event{Kind: kind, Feed: feed, TeamID: a.TeamID, Detail: a.String(), At: e.cfg.Clock.Now()})
}

func (e *Engine) emitLocked(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Debug("event buffer full, dropping event", zap.String("kind", string(ev.Kind)))
	}
}

// checkRankingsLocked compares server computed rankings with the local derivation.
// The local derivation is kept either way.
func (e *Engine) checkRankingsLocked(server map[string][]models.Team) {
	teams := e.state.Teams()
	for name, list := range server {
		view, ok := ranking.ParseView(name)
		if !ok || len(list) == 0 {
			continue
		}
		local := ranking.IDs(ranking.Project(teams, view, len(list)))
		remote := ranking.IDs(list)
		if !slices.Equal(local, remote) {
			metrics.RankingDisagreements.Inc()
			e.log.Debug("server ranking differs from local derivation",
				zap.String("view", string(view)), zap.Strings("server", remote), zap.Strings("local", local))
		}
	}
}

// publishLocked builds a snapshot of the current state unless the published one is already at
// this version, then fans it out.
func (e *Engine) publishLocked() {
	if cur := e.current.Load(); cur != nil && cur.Version == e.state.Version() {
		return
	}
	snap := e.build(e.state)
	e.current.Store(snap)

	metrics.SnapshotVersion.Set(float64(snap.Version))
	metrics.Teams.Set(float64(len(snap.Teams)))

	for _, ch := range e.subs {
		offerLatest(ch, snap)
	}
	if e.publisher != nil {
		offerLatest(e.publishCh, snap)
	}
}

func (e *Engine) publishLoop() {
	for {
		select {
		case <-e.done:
			return
		case snap := <-e.publishCh:
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FetchTimeout)
			err := e.publisher.Publish(ctx, snap)
			cancel()
			if err != nil {
				metrics.SnapshotPublishes.WithLabelValues("error").Inc()
				e.log.Warn("failed to publish snapshot", zap.Uint64("version", snap.Version), zap.Error(err))
				continue
			}
			metrics.SnapshotPublishes.WithLabelValues("ok").Inc()
		}
	}
}

// offerLatest replaces whatever is buffered in ch with snap. Callers must be the only sender.
func offerLatest(ch chan *Snapshot, snap *Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
