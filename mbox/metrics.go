package mbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricLockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mboxstore_lock_wait_seconds",
			Help:    "Time spent waiting for a mailbox lock.",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"kind"},
	)
	metricScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mboxstore_messages_scanned_total",
			Help: "Number of messages found while parsing mailbox files.",
		},
	)
	metricReparse = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mboxstore_reparse_total",
			Help: "Number of mailbox parses, by kind (full, incremental).",
		},
		[]string{"kind"},
	)
	metricAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mboxstore_appended_total",
			Help: "Number of messages appended to mailboxes.",
		},
	)
	metricExpunged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mboxstore_expunged_total",
			Help: "Number of deleted messages removed by compaction.",
		},
	)
	metricExpunge = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mboxstore_expunge_duration_seconds",
			Help:    "Mailbox compaction duration, by result (ok, error).",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"result"},
	)
)
