// Package metrics holds the prometheus collectors for the ingestion pipeline.
// Everything registers against the default registry and is served on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stablekraft_feed_fetch_duration_seconds",
		Help:    "Duration of feed fetches in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	FeedSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stablekraft_feed_syncs_total",
		Help: "Feed syncs by outcome (ok, parse_error, transport_error, error).",
	}, []string{"outcome"})

	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stablekraft_remote_item_resolutions_total",
		Help: "Remote item resolutions by outcome (local, resolved, not_found, error, skipped).",
	}, []string{"outcome"})

	IndexRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stablekraft_index_request_duration_seconds",
		Help:    "Duration of external index requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	PlaylistReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stablekraft_playlist_reads_total",
		Help: "Playlist reads by cache state (fresh, stale, placeholder).",
	}, []string{"state"})

	PlaylistBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stablekraft_playlist_build_duration_seconds",
		Help:    "Duration of full playlist assemblies in seconds.",
		Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stablekraft_http_requests_total",
		Help: "HTTP requests by method, route template and status code.",
	}, []string{"method", "route", "code"})

	DedupRemovals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stablekraft_dedup_removed_tracks_total",
		Help: "Tracks removed by deduplication.",
	})
)

// ObserveSince records the time elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
