package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run metrics
var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlistbot_runs_total",
			Help: "Total number of scan runs",
		},
		[]string{"result"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playlistbot_run_duration_seconds",
			Help:    "Duration of scan runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playlistbot_last_run_timestamp_seconds",
			Help: "Unix time of the last finished scan run",
		},
	)

	LastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "playlistbot_last_success_timestamp_seconds",
			Help: "Unix time of the last scan run that finished without error",
		},
	)
)

// Mailbox metrics
var (
	ThreadsScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "playlistbot_threads_scanned_total",
			Help: "Total number of unread threads inspected",
		},
	)

	RepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlistbot_replies_total",
			Help: "Total number of reply attempts for matched messages",
		},
		[]string{"result"},
	)

	MarkReadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlistbot_mark_read_total",
			Help: "Total number of attempts to mark a replied message read",
		},
		[]string{"result"},
	)
)

// Delivery metrics
var (
	RelayTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playlistbot_relay_total",
			Help: "Total number of outbound relay attempts",
		},
		[]string{"transport", "result"},
	)
)
