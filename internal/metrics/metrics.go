// Package metrics defines the Prometheus instruments rankwatch exports.
//
// Metric families:
//   - Upstream requests: per-server outcome counts and breaker state
//   - Scheduler: task runs by result, last successful run timestamp
//   - Sync volume: leaderboard rows and rank changes written
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamRequestsTotal counts upstream requests by server and outcome
	// (ok, not_found, unavailable, breaker_open, error).
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankwatch_upstream_requests_total",
			Help: "Total number of upstream requests by server and outcome",
		},
		[]string{"server", "outcome"},
	)

	// UpstreamRequestDuration tracks upstream latency, pacing delay excluded.
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rankwatch_upstream_request_duration_seconds",
			Help:    "Duration of upstream requests in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"server"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rankwatch_upstream_breaker_state",
			Help: "Circuit breaker state per server (0 closed, 1 half-open, 2 open)",
		},
		[]string{"server"},
	)

	// TaskRunsTotal counts scheduled task executions by result
	// (success, failure, panic).
	TaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankwatch_task_runs_total",
			Help: "Total number of scheduled task runs by result",
		},
		[]string{"task", "result"},
	)

	// TaskDuration tracks how long each task run takes.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rankwatch_task_duration_seconds",
			Help:    "Duration of scheduled task runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"task"},
	)

	// TaskLastSuccess is the unix time of the last successful run per task.
	TaskLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rankwatch_task_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful run per task",
		},
		[]string{"task"},
	)

	// LeaderboardEntriesTotal counts leaderboard rows persisted.
	LeaderboardEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankwatch_leaderboard_entries_total",
			Help: "Total number of leaderboard entries persisted",
		},
		[]string{"server", "criterion"},
	)

	// RankChangesTotal counts standings that moved, by direction.
	RankChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rankwatch_rank_changes_total",
			Help: "Total number of global rank changes observed",
		},
		[]string{"server", "direction"},
	)
)

// RecordUpstream records one upstream request.
func RecordUpstream(server, outcome string, took time.Duration) {
	UpstreamRequestsTotal.WithLabelValues(server, outcome).Inc()
	UpstreamRequestDuration.WithLabelValues(server).Observe(took.Seconds())
}

// RecordTaskRun records one scheduled task run.
func RecordTaskRun(task, result string, took time.Duration, finished time.Time) {
	TaskRunsTotal.WithLabelValues(task, result).Inc()
	TaskDuration.WithLabelValues(task).Observe(took.Seconds())
	if result == "success" {
		TaskLastSuccess.WithLabelValues(task).Set(float64(finished.Unix()))
	}
}

// RecordRankChange records a global rank movement; unchanged ranks are ignored.
func RecordRankChange(server string, previous, current int) {
	switch {
	case previous == 0 || current == 0 || previous == current:
		return
	case current < previous:
		RankChangesTotal.WithLabelValues(server, "up").Inc()
	default:
		RankChangesTotal.WithLabelValues(server, "down").Inc()
	}
}
