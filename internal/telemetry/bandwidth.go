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

// Package telemetry implements the bandwidth/latency ring buffer, the
// derived smoothness score, and the append-only event log with its SOC
// alert derivation.
package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Descriptor is one completed request's instrumentation record.
type Descriptor struct {
	At         time.Time
	DurationMs float64
	BytesIn    int64
	BytesOut   int64
	Status     int
}

// Bandwidth is a bounded circular buffer of request descriptors plus
// cumulative totals.
type Bandwidth struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	capacity int

	ring []Descriptor

	totalRequests int64
	totalErrors   int64
	totalBytesIn  int64
	totalBytesOut int64

	concurrent int64
}

// NewBandwidth constructs a Bandwidth ring of the given capacity
// (BandwidthRetention, default 200).
func NewBandwidth(capacity int, clock clockwork.Clock) *Bandwidth {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Bandwidth{clock: clock, capacity: capacity}
}

// BeginRequest marks one more in-flight request for the concurrency score,
// returning a function that must be called exactly once when the request
// completes.
func (b *Bandwidth) BeginRequest() func(bytesIn, bytesOut int64, status int) {
	b.mu.Lock()
	b.concurrent++
	b.mu.Unlock()

	start := b.clock.Now()
	return func(bytesIn, bytesOut int64, status int) {
		b.record(Descriptor{
			At:         start,
			DurationMs: float64(b.clock.Now().Sub(start)) / float64(time.Millisecond),
			BytesIn:    bytesIn,
			BytesOut:   bytesOut,
			Status:     status,
		})
	}
}

func (b *Bandwidth) record(d Descriptor) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.concurrent--
	if b.concurrent < 0 {
		b.concurrent = 0
	}

	b.ring = append(b.ring, d)
	if len(b.ring) > b.capacity {
		b.ring = b.ring[len(b.ring)-b.capacity:]
	}

	b.totalRequests++
	b.totalBytesIn += d.BytesIn
	b.totalBytesOut += d.BytesOut
	if d.Status == 0 || d.Status >= 500 {
		b.totalErrors++
	}
}

// Metrics are the derived, on-demand figures computed from the last 60s
// slice of the ring.
type Metrics struct {
	P95LatencyMs   float64
	AvgLatencyMs   float64
	MaxLatencyMs   float64
	RequestsPerMin float64
	BytesInPerSec  float64
	BytesOutPerSec float64
	ErrorRatePct   float64
	Smoothness     int
	Bucket         string
}

// Snapshot computes Metrics from the last 60 seconds of recorded requests.
func (b *Bandwidth) Snapshot() Metrics {
	b.mu.Lock()
	now := b.clock.Now()
	cutoff := now.Add(-60 * time.Second)
	var recent []Descriptor
	for _, d := range b.ring {
		if d.At.After(cutoff) {
			recent = append(recent, d)
		}
	}
	concurrent := b.concurrent
	b.mu.Unlock()

	if len(recent) == 0 {
		return Metrics{Bucket: "smooth", Smoothness: 100}
	}

	latencies := make([]float64, len(recent))
	var sum, max float64
	var bytesIn, bytesOut int64
	var errCount int
	for i, d := range recent {
		latencies[i] = d.DurationMs
		sum += d.DurationMs
		if d.DurationMs > max {
			max = d.DurationMs
		}
		bytesIn += d.BytesIn
		bytesOut += d.BytesOut
		if d.Status == 0 || d.Status >= 500 {
			errCount++
		}
	}
	sort.Float64s(latencies)
	p95 := latencies[percentileIndex(len(latencies), 0.95)]
	avg := sum / float64(len(recent))
	errorRate := 100 * float64(errCount) / float64(len(recent))

	latencyScore := clamp(100-avg/5000*100, 0, 100)
	errorScore := clamp(100-errorRate*5, 0, 100)
	concurrencyScore := clamp(100-float64(concurrent)/50*100, 0, 100)
	smoothness := int(clamp(round(0.4*latencyScore+0.3*errorScore+0.3*concurrencyScore), 0, 100))

	bucket := "congested"
	switch {
	case smoothness >= 70:
		bucket = "smooth"
	case smoothness >= 40:
		bucket = "moderate"
	}

	return Metrics{
		P95LatencyMs:   p95,
		AvgLatencyMs:   avg,
		MaxLatencyMs:   max,
		RequestsPerMin: float64(len(recent)),
		BytesInPerSec:  float64(bytesIn) / 60,
		BytesOutPerSec: float64(bytesOut) / 60,
		ErrorRatePct:   errorRate,
		Smoothness:     smoothness,
		Bucket:         bucket,
	}
}

func percentileIndex(n int, p float64) int {
	idx := int(p * float64(n))
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round(v float64) float64 {
	if v < 0 {
		return float64(int(v - 0.5))
	}
	return float64(int(v + 0.5))
}
