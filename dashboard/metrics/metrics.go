package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_dashboard_feed_fetches_total", Help: "Feed fetches by feed and result.",
	}, []string{"feed", "result"})
	FeedFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leaderboard_dashboard_feed_fetch_duration_seconds",
		Help:    "Duration of feed fetches.",
		Buckets: prometheus.DefBuckets,
	}, []string{"feed"})
	SkippedTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_dashboard_skipped_ticks_total", Help: "Poll ticks skipped because the previous fetch for the feed was still in flight.",
	}, []string{"feed"})
	DiscardedResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_dashboard_discarded_results_total", Help: "Fetch results that arrived after shutdown and were dropped.",
	}, []string{"feed"})

	Anomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_dashboard_anomalies_total", Help: "Data-quality anomalies by kind.",
	}, []string{"kind"})
	RankingDisagreements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_dashboard_ranking_disagreements_total", Help: "Server rankings that disagreed with the local derivation.",
	})

	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_dashboard_mutations_total", Help: "Team mutations by operation and result.",
	}, []string{"op", "result"})
	PendingMutations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leaderboard_dashboard_pending_mutations", Help: "Acknowledged mutations awaiting a reconciling refresh.",
	})

	SnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leaderboard_dashboard_snapshot_version", Help: "Version of the latest published snapshot.",
	})
	Teams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leaderboard_dashboard_teams", Help: "Teams held in the canonical state.",
	})
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leaderboard_dashboard_subscribers", Help: "Active snapshot subscribers.",
	})
	SnapshotPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_dashboard_snapshot_publishes_total", Help: "Snapshot publications to Redis by result.",
	}, []string{"result"})
)
