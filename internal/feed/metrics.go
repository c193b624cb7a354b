package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_feed_events_total",
		Help: "Events emitted by the change feed",
	}, []string{"type"})

	feedTickFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_feed_tick_failures_total",
		Help: "Change detection passes that failed to read the store",
	})

	feedSkippedTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_feed_skipped_ticks_total",
		Help: "Change detection passes skipped because one was still running",
	})

	feedSeq = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_feed_seq",
		Help: "Sequence number of the last emitted snapshot",
	})
)
