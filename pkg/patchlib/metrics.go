package patchlib

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes reported by the engine.
const (
	OutcomePatched        = "patched"
	OutcomeUnmatched      = "unmatched"
	OutcomePassthrough    = "passthrough"
	OutcomeUpstreamError  = "upstream_error"
	OutcomeDecodeError    = "decode_error"
	OutcomeInvalidRequest = "invalid_request"
)

// Metrics groups the Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Requests         *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	PatchDuration    *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playerpatch_requests_total",
				Help: "Relayed requests by route and outcome",
			},
			[]string{"route", "outcome"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playerpatch_upstream_duration_seconds",
				Help:    "Time until upstream response headers were received",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		PatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playerpatch_patch_duration_seconds",
				Help:    "Time spent reading, decoding and patching the upstream body",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"route"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playerpatch_cache_lookups_total",
				Help: "Upstream response cache lookups by result",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.UpstreamDuration, m.PatchDuration, m.CacheLookups)
	}
	return m
}

func (m *Metrics) observeOutcome(route, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, outcome).Inc()
}

func (m *Metrics) observeUpstream(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) observePatch(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.PatchDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveCache matches the httpcache.Transport Observe hook.
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
