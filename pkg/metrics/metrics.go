// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the daemon's request counters and latencies as
// Prometheus collectors, scraped from the admin HTTP surface (section 6).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records request/response/error counts and cache hit ratio per
// batch request type, matching the shape pkg/middleware's MetricsCollector
// expects.
type Collector interface {
	RecordRequest(requestType string)
	RecordResponse(requestType string, duration time.Duration)
	RecordError(requestType string, err error)
	RecordCacheHit(key string)
	RecordCacheMiss(key string)
}

// PrometheusCollector is the production Collector, registering its series
// under the pbs_server namespace.
type PrometheusCollector struct {
	requestsTotal  *prometheus.CounterVec
	responseTotal  *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
}

// NewPrometheusCollector builds a collector and registers it with reg. The
// caller supplies the registry (typically prometheus.NewRegistry(), not the
// global default) so multiple daemons in one process don't collide.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pbs_server",
			Name:      "requests_total",
			Help:      "Total batch requests dispatched, by request type.",
		}, []string{"request_type"}),
		responseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pbs_server",
			Name:      "responses_total",
			Help:      "Total successful batch replies, by request type.",
		}, []string{"request_type"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pbs_server",
			Name:      "errors_total",
			Help:      "Total failed batch requests, by request type.",
		}, []string{"request_type"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pbs_server",
			Name:      "request_duration_seconds",
			Help:      "Batch request handling latency, by request type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"request_type"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pbs_server",
			Name:      "attr_cache_hits_total",
			Help:      "Attribute decode cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pbs_server",
			Name:      "attr_cache_misses_total",
			Help:      "Attribute decode cache misses.",
		}),
	}

	reg.MustRegister(c.requestsTotal, c.responseTotal, c.errorsTotal, c.requestLatency, c.cacheHits, c.cacheMisses)
	return c
}

func (c *PrometheusCollector) RecordRequest(requestType string) {
	c.requestsTotal.WithLabelValues(requestType).Inc()
}

func (c *PrometheusCollector) RecordResponse(requestType string, duration time.Duration) {
	c.responseTotal.WithLabelValues(requestType).Inc()
	c.requestLatency.WithLabelValues(requestType).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordError(requestType string, _ error) {
	c.errorsTotal.WithLabelValues(requestType).Inc()
}

func (c *PrometheusCollector) RecordCacheHit(string) { c.cacheHits.Inc() }

func (c *PrometheusCollector) RecordCacheMiss(string) { c.cacheMisses.Inc() }

// NoOpCollector discards everything, used by tests and any command-line
// tool that doesn't run an admin HTTP surface.
type NoOpCollector struct{}

func (NoOpCollector) RecordRequest(string)               {}
func (NoOpCollector) RecordResponse(string, time.Duration) {}
func (NoOpCollector) RecordError(string, error)          {}
func (NoOpCollector) RecordCacheHit(string)              {}
func (NoOpCollector) RecordCacheMiss(string)             {}

var defaultCollector Collector = NoOpCollector{}

// SetDefaultCollector replaces the package-level default, used by daemon
// startup once it has built the real PrometheusCollector.
func SetDefaultCollector(collector Collector) {
	if collector == nil {
		collector = NoOpCollector{}
	}
	defaultCollector = collector
}

// GetDefaultCollector returns the current package-level default.
func GetDefaultCollector() Collector {
	return defaultCollector
}
