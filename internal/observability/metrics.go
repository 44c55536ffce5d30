package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the arena service.
type Metrics struct {
	// --- Background loops ---
	LoopTicks  *prometheus.CounterVec
	LoopErrors *prometheus.CounterVec

	// --- Ranking cache ---
	CacheUnavailable *prometheus.CounterVec
	RankingInits     *prometheus.CounterVec
	RankingCopies    prometheus.Counter
	RankingSize      *prometheus.GaugeVec

	// --- Matchmaking ---
	OpponentSelections  prometheus.Counter
	MatchmakingFailures *prometheus.CounterVec
	FallbackDepth       prometheus.Histogram

	// --- Tracker ---
	TrackerCursorLag    prometheus.Gauge
	TrackerFastForwards prometheus.Counter
	TrackerTxSeen       prometheus.Counter
	TrackerTxMatched    prometheus.Counter

	// --- Settlement ---
	SettlementOutcomes *prometheus.CounterVec
	SettlementDuration prometheus.Histogram
	JobsPublished      *prometheus.CounterVec
	JobsConsumed       *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		LoopTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_loop_ticks_total",
			Help: "Polling loop iterations",
		}, []string{"loop"}),

		LoopErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_loop_errors_total",
			Help: "Polling loop iterations that failed",
		}, []string{"loop", "kind"}),

		CacheUnavailable: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_cache_unavailable_total",
			Help: "Reads rejected because the ranking status was not DONE",
		}, []string{"scope"}),

		RankingInits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_ranking_inits_total",
			Help: "InitRanking operations by scope",
		}, []string{"scope"}),

		RankingCopies: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_ranking_copies_total",
			Help: "Round-to-round carry-forward operations",
		}),

		RankingSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arena_ranking_size",
			Help: "Members in the current global ranking",
		}, []string{"season", "round"}),

		OpponentSelections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_opponent_selections_total",
			Help: "Successful opponent-set selections",
		}),

		MatchmakingFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_matchmaking_failures_total",
			Help: "Opponent selections that could not fill all groups",
		}, []string{"reason"}),

		FallbackDepth: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "arena_matchmaking_fallback_depth",
			Help:    "Rank-shift attempts needed to fill a group",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),

		TrackerCursorLag: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "arena_tracker_cursor_lag_blocks",
			Help: "Blocks between chain tip and the tracker cursor",
		}),

		TrackerFastForwards: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_tracker_fast_forwards_total",
			Help: "Cursor fast-forwards after a catastrophic backlog",
		}),

		TrackerTxSeen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_tracker_tx_seen_total",
			Help: "Transactions inspected by the tracker",
		}),

		TrackerTxMatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_tracker_tx_matched_total",
			Help: "Transactions carrying a valid battle action",
		}),

		SettlementOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_settlement_outcomes_total",
			Help: "Settlement results by type and outcome",
		}, []string{"type", "outcome"}),

		SettlementDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "arena_settlement_duration_seconds",
			Help:    "Wall time of one settlement including confirmation wait",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		JobsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_settlement_jobs_published_total",
			Help: "Settlement jobs published to the job stream",
		}, []string{"type"}),

		JobsConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_settlement_jobs_consumed_total",
			Help: "Settlement jobs consumed from the job stream",
		}, []string{"type"}),
	}
}
