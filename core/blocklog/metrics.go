package blocklog

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/hyperlog"
)

// defines prometheus metrics
var (
	promOpenLogs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hyperlog_blocklog_open_logs",
		Help: "number of logs currently open",
	})

	promAppendedBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hyperlog_blocklog_appended_blocks_total",
		Help: "total number of blocks appended",
	})

	promAppendedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hyperlog_blocklog_appended_bytes_total",
		Help: "total number of bytes appended",
	})

	promBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hyperlog_blocklog_append_batch",
		Help:    "number of blocks per append",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 20, 30, 50, 100},
	})

	promTruncations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hyperlog_blocklog_truncations_total",
		Help: "total number of truncations",
	})

	promConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hyperlog_blocklog_commit_conflicts_total",
		Help: "total number of commits rejected because of a conflicting write",
	})

	promWaits = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hyperlog_blocklog_wait_seconds",
		Help:    "time spent by the reads waiting for a block",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	hyperlog.PromCollectors = append(hyperlog.PromCollectors, promOpenLogs,
		promAppendedBlocks, promAppendedBytes, promBatchSize, promTruncations,
		promConflicts, promWaits)
}
