// Package metrics provides Prometheus instrumentation for the indexer,
// watcher, and query client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IndexerFilesTotal is the number of conversations a connector's scan
	// emitted this pass, by agent. Set once the scan has returned.
	IndexerFilesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sessiondex",
			Subsystem: "indexer",
			Name:      "files_total",
			Help:      "Artifacts discovered in the current indexer pass, by agent",
		},
		[]string{"agent"},
	)

	// IndexerFilesDone is the number of artifacts processed so far this
	// pass, by agent.
	IndexerFilesDone = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sessiondex",
			Subsystem: "indexer",
			Name:      "files_done",
			Help:      "Artifacts processed in the current indexer pass, by agent",
		},
		[]string{"agent"},
	)

	// IndexerPassDuration tracks how long a full indexer pass takes.
	IndexerPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sessiondex",
			Subsystem: "indexer",
			Name:      "pass_duration_seconds",
			Help:      "Duration of an indexer pass (full or incremental)",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// IndexerConversationsWritten counts conversations written to storage,
	// by agent and outcome (inserted, updated).
	IndexerConversationsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessiondex",
			Subsystem: "indexer",
			Name:      "conversations_written_total",
			Help:      "Conversations written to storage, by agent and outcome",
		},
		[]string{"agent", "outcome"},
	)

	// IndexerParseWarnings counts skipped malformed records, by agent.
	IndexerParseWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessiondex",
			Subsystem: "indexer",
			Name:      "parse_warnings_total",
			Help:      "Malformed records skipped during a connector scan, by agent",
		},
		[]string{"agent"},
	)

	// WatcherDebounceCycles counts completed debounce-tick flushes.
	WatcherDebounceCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sessiondex",
			Subsystem: "watcher",
			Name:      "debounce_cycles_total",
			Help:      "Debounce ticks that flushed at least one dirty connector",
		},
	)

	// WatcherReindexTotal counts targeted reindexes triggered by the
	// watcher, by agent and result.
	WatcherReindexTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessiondex",
			Subsystem: "watcher",
			Name:      "reindex_total",
			Help:      "Targeted reindexes triggered by filesystem events, by agent and result",
		},
		[]string{"agent", "result"},
	)

	// WatcherCursorTimestamp is the last-seen mtime recorded per agent, for
	// observing cursor monotonicity externally.
	WatcherCursorTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sessiondex",
			Subsystem: "watcher",
			Name:      "cursor_timestamp_ms",
			Help:      "Last-seen source mtime (epoch ms) per agent",
		},
		[]string{"agent"},
	)

	// QueryDuration tracks end-to-end query.Request latency, by backend
	// (bleve or fts_mirror) and match mode.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sessiondex",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query execution latency, by backend and match mode",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "match_mode"},
	)

	// QueryCacheHits counts LRU cache hits versus misses.
	QueryCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessiondex",
			Subsystem: "query",
			Name:      "cache_hits_total",
			Help:      "Query result cache hits and misses",
		},
		[]string{"result"},
	)

	// QueryFallbacks counts how often the query client fell back to the
	// relational FTS mirror because the primary index was unavailable.
	QueryFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sessiondex",
			Subsystem: "query",
			Name:      "fts_mirror_fallbacks_total",
			Help:      "Queries served by the relational FTS mirror instead of the primary index",
		},
	)
)
