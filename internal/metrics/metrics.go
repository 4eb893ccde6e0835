// Package metrics exports Prometheus counters and histograms for the
// operations this module performs most often: row store commits,
// thread attachment, live-view recomputation and the periodic purge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Row store
	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aerion_msgdb_commits_total",
		Help: "Total row store commits by kind",
	}, []string{"kind"})

	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aerion_msgdb_commit_duration_seconds",
		Help:    "Time spent inside Store.Commit",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	WastePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aerion_msgdb_store_waste_percent",
		Help: "Fraction of free pages in the most recently checked row store file",
	})

	// Message summary DB
	HeadersAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aerion_msgdb_headers_added_total",
		Help: "Total headers added across all open folders",
	})

	HeadersDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aerion_msgdb_headers_deleted_total",
		Help: "Total headers deleted across all open folders",
	})

	HitCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aerion_msgdb_hit_cache_lookups_total",
		Help: "Hit cache lookups by outcome",
	}, []string{"outcome"}) // hit, miss, evict

	// Threading
	ThreadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aerion_msgdb_threads_created_total",
		Help: "Total new threads started",
	})

	ThreadAttachments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aerion_msgdb_thread_attachments_total",
		Help: "Messages attached to an existing thread by strategy",
	}, []string{"strategy"}) // reference, subject, reverse_reference

	// Live view
	LiveViewRecomputes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aerion_liveview_recomputes_total",
		Help: "Total live-view match recomputations triggered by a listener event",
	})

	LiveViewQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aerion_liveview_query_duration_seconds",
		Help:    "Time spent executing a compiled live-view query",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"operation"}) // count, count_unread, select

	// Retention and purge
	PurgeRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aerion_purge_runs_total",
		Help: "Periodic purge service ticks by outcome",
	}, []string{"outcome"}) // completed, aborted_budget, skipped_delay

	MessagesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aerion_retention_messages_purged_total",
		Help: "Total messages deleted by ApplyRetentionSettings",
	})

	// Folder registry
	FolderTreeLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aerion_registry_load_duration_seconds",
		Help:    "Time spent in LoadFolders",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
)
