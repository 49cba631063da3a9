// ============================================================================
// jobwatch Metrics - Prometheus collector
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Poll, fan-out, auth and command counters exposed on /metrics.
//
// Metrics:
//
//   1. Poll loop:
//      - jobwatch_polls_total{result="success|failure"}
//      - jobwatch_poll_duration_seconds
//      - jobwatch_snapshot_jobs
//      - jobwatch_last_successful_poll_timestamp_seconds
//
//   2. Fan-out:
//      - jobwatch_channels_connected{transport="ws|grpc"}
//      - jobwatch_deliveries_total{result="sent|dropped"}
//
//   3. Edges:
//      - jobwatch_auth_rejections_total{surface="channel|command"}
//      - jobwatch_commands_total{command, result="success|failure"}
//
// Example queries:
//
//   # poll failure ratio
//   rate(jobwatch_polls_total{result="failure"}[5m]) / rate(jobwatch_polls_total[5m])
//
//   # slow consumers
//   rate(jobwatch_deliveries_total{result="dropped"}[1m])
//
// The collector registers on the Registerer it is given; the server passes
// a private registry so tests and multiple servers never collide.
//
// ============================================================================

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every jobwatch series. A nil *Collector is valid and
// records nothing.
type Collector struct {
	polls         *prometheus.CounterVec
	pollDuration  prometheus.Histogram
	snapshotJobs  prometheus.Gauge
	lastSuccess   prometheus.Gauge
	channels      *prometheus.GaugeVec
	deliveries    *prometheus.CounterVec
	authRejected  *prometheus.CounterVec
	commands      *prometheus.CounterVec
	enrichLookups *prometheus.CounterVec
}

// NewCollector creates the collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobwatch_polls_total",
			Help: "Snapshot polls by result",
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobwatch_poll_duration_seconds",
			Help:    "Duration of snapshot fetches",
			Buckets: prometheus.DefBuckets,
		}),
		snapshotJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobwatch_snapshot_jobs",
			Help: "Number of jobs in the last good snapshot",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobwatch_last_successful_poll_timestamp_seconds",
			Help: "Unix time of the last successful poll",
		}),
		channels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jobwatch_channels_connected",
			Help: "Currently admitted push channels",
		}, []string{"transport"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobwatch_deliveries_total",
			Help: "Per-channel snapshot deliveries by result",
		}, []string{"result"}),
		authRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobwatch_auth_rejections_total",
			Help: "Rejected identity assertions by surface",
		}, []string{"surface"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobwatch_commands_total",
			Help: "Control commands by name and result",
		}, []string{"command", "result"}),
		enrichLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobwatch_enrich_lookups_total",
			Help: "Metadata lookups by source (cache|remote) and result",
		}, []string{"source", "result"}),
	}

	reg.MustRegister(
		c.polls,
		c.pollDuration,
		c.snapshotJobs,
		c.lastSuccess,
		c.channels,
		c.deliveries,
		c.authRejected,
		c.commands,
		c.enrichLookups,
	)
	return c
}

// RecordPollSuccess records a successful fetch.
func (c *Collector) RecordPollSuccess(d time.Duration, jobs int, at time.Time) {
	if c == nil {
		return
	}
	c.polls.WithLabelValues("success").Inc()
	c.pollDuration.Observe(d.Seconds())
	c.snapshotJobs.Set(float64(jobs))
	c.lastSuccess.Set(float64(at.Unix()))
}

// RecordPollFailure records a failed fetch.
func (c *Collector) RecordPollFailure(d time.Duration) {
	if c == nil {
		return
	}
	c.polls.WithLabelValues("failure").Inc()
	c.pollDuration.Observe(d.Seconds())
}

// ChannelOpened increments the connected gauge for transport.
func (c *Collector) ChannelOpened(transport string) {
	if c == nil {
		return
	}
	c.channels.WithLabelValues(transport).Inc()
}

// ChannelClosed decrements the connected gauge for transport.
func (c *Collector) ChannelClosed(transport string) {
	if c == nil {
		return
	}
	c.channels.WithLabelValues(transport).Dec()
}

// RecordDelivery counts one per-channel delivery attempt.
func (c *Collector) RecordDelivery(sent bool) {
	if c == nil {
		return
	}
	if sent {
		c.deliveries.WithLabelValues("sent").Inc()
	} else {
		c.deliveries.WithLabelValues("dropped").Inc()
	}
}

// RecordAuthRejection counts a rejected assertion on surface.
func (c *Collector) RecordAuthRejection(surface string) {
	if c == nil {
		return
	}
	c.authRejected.WithLabelValues(surface).Inc()
}

// RecordCommand counts a control command outcome.
func (c *Collector) RecordCommand(command string, err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.commands.WithLabelValues(command, result).Inc()
}

// RecordEnrichLookup counts a metadata lookup.
func (c *Collector) RecordEnrichLookup(source string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.enrichLookups.WithLabelValues(source, result).Inc()
}

// Handler returns the exposition handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
