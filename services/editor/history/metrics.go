// SPDX-License-Identifier: MIT OR Apache-2.0

package history

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	historyPushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "editor_history_pushes_total",
		Help: "Total operation groups pushed to history",
	})

	historyCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "editor_history_coalesced_total",
		Help: "Total operation groups merged into an existing entry",
	})

	historyEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "editor_history_evictions_total",
		Help: "Total operation groups evicted to stay inside the memory budget",
	})

	historyDiscardsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "editor_history_discards_total",
		Help: "Total operation groups discarded due to incompatible snapshot schemas",
	})

	historyMemoryBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "editor_history_memory_bytes",
		Help: "Approximate bytes retained by undo and redo stacks",
	})

	historyDepthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "editor_history_depth",
		Help: "Current depth of the history stacks",
	}, []string{"stack"})

	historyOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "editor_history_op_duration_seconds",
		Help:    "Duration of undo/redo passes",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"op"})
)
