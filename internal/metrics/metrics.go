// Package metrics holds the Prometheus collectors shared by the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxintel_messages_ingested_total",
		Help: "Messages seen by the ingestion gateway, by source and outcome.",
	}, []string{"source", "outcome"})

	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxintel_classifications_total",
		Help: "Classification attempts by outcome.",
	}, []string{"outcome"})

	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inboxintel_alerts_total",
		Help: "Alert dispatch decisions by outcome.",
	}, []string{"outcome"})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inboxintel_cycle_duration_seconds",
		Help:    "Duration of scheduled jobs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
)

// ObserveSince records the elapsed time of a job started at start.
func ObserveSince(job string, start time.Time) {
	CycleDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
