/*
Copyright 2026 The Aegisgate Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exposition of the bandwidth/credit economy figures this
// gateway already tracks in memory. Registered once at startup and scraped on demand; the
// gauges are refreshed from a Bandwidth/quota snapshot by Collect.
type PrometheusExporter struct {
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	smoothnessGauge prometheus.Gauge
	p95LatencyGauge prometheus.Gauge
	avgLatencyGauge prometheus.Gauge
	bytesInGauge    prometheus.Gauge
	bytesOutGauge   prometheus.Gauge

	activeSessionsGauge  prometheus.Gauge
	disabledSessionGauge prometheus.Gauge
	totalCreditsGauge    prometheus.Gauge
}

// NewPrometheusExporter constructs and registers every collector against
// reg. Callers typically pass prometheus.DefaultRegisterer or a dedicated
// registry wired into the /metrics handler.
func NewPrometheusExporter(reg prometheus.Registerer, namespace string) *PrometheusExporter {
	e := &PrometheusExporter{
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total", Help: "Total requests forwarded through the gateway.",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total", Help: "Total requests that completed with a 5xx or aborted without status.",
		}),
		smoothnessGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "smoothness_score", Help: "Composite 0-100 smoothness score over the trailing 60s window.",
		}),
		p95LatencyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "p95_latency_ms", Help: "P95 request latency in milliseconds over the trailing 60s window.",
		}),
		avgLatencyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "avg_latency_ms", Help: "Average request latency in milliseconds over the trailing 60s window.",
		}),
		bytesInGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "bytes_in_per_sec", Help: "Inbound bytes per second over the trailing 60s window.",
		}),
		bytesOutGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "bytes_out_per_sec", Help: "Outbound bytes per second over the trailing 60s window.",
		}),
		activeSessionsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_enabled", Help: "Number of harvested sessions currently enabled.",
		}),
		disabledSessionGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_disabled", Help: "Number of harvested sessions currently disabled, any reason.",
		}),
		totalCreditsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "credits_remaining_total", Help: "Sum of CreditsRemaining across all enabled sessions.",
		}),
	}

	reg.MustRegister(
		e.requestsTotal, e.errorsTotal, e.smoothnessGauge, e.p95LatencyGauge,
		e.avgLatencyGauge, e.bytesInGauge, e.bytesOutGauge,
		e.activeSessionsGauge, e.disabledSessionGauge, e.totalCreditsGauge,
	)
	return e
}

// ObserveRequest increments the request/error counters for one completed
// request. Call this from the same completion path that feeds Bandwidth.
func (e *PrometheusExporter) ObserveRequest(status int) {
	e.requestsTotal.Inc()
	if status == 0 || status >= 500 {
		e.errorsTotal.Inc()
	}
}

// SessionTotals is the subset of session-store aggregates the exporter
// needs; kept separate from the session package to avoid an import cycle
// between telemetry and session.
type SessionTotals struct {
	Enabled         int
	Disabled        int
	CreditsRemaining float64
}

// Collect refreshes every gauge from the latest bandwidth snapshot and
// session totals. Intended to be called just before the /metrics handler
// serves a scrape, or on a short ticker.
func (e *PrometheusExporter) Collect(m Metrics, totals SessionTotals) {
	e.smoothnessGauge.Set(float64(m.Smoothness))
	e.p95LatencyGauge.Set(m.P95LatencyMs)
	e.avgLatencyGauge.Set(m.AvgLatencyMs)
	e.bytesInGauge.Set(m.BytesInPerSec)
	e.bytesOutGauge.Set(m.BytesOutPerSec)
	e.activeSessionsGauge.Set(float64(totals.Enabled))
	e.disabledSessionGauge.Set(float64(totals.Disabled))
	e.totalCreditsGauge.Set(totals.CreditsRemaining)
}
