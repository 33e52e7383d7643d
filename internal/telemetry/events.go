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
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Mode enumerates how a request was served.
type Mode string

const (
	ModePlatform         Mode = "platform"
	ModePlatformStream   Mode = "platform_stream"
	ModeUpstream         Mode = "upstream"
	ModeUpstreamStream   Mode = "upstream_stream"
	ModeSimulate         Mode = "simulate"
	ModeWindsurfProxy    Mode = "windsurf_proxy"
)

// EventRecord is one structured, append-only log entry.
type EventRecord struct {
	ID         string
	Timestamp  time.Time
	Method     string
	Path       string
	IP         string
	TokenHash  string
	Status     int
	SessionID  string
	UserName   string
	Model      string
	PromptToks int
	CreditCost float64
	Tags       []string
	Mode       Mode
	Reason     string
}

// TokenHash returns the first 12 hex characters of SHA-256(token), used so
// logs never record a bearer token in the clear.
func TokenHash(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}

// EventLog is the bounded, FIFO, append-only event ring.
type EventLog struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	capacity int
	events   []EventRecord
}

// NewEventLog constructs a ring of the given capacity.
func NewEventLog(capacity int, clock clockwork.Clock) *EventLog {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &EventLog{clock: clock, capacity: capacity}
}

// Append adds one record, trimming the oldest entry on overflow.
func (l *EventLog) Append(e EventRecord) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	if len(l.events) > l.capacity {
		l.events = l.events[len(l.events)-l.capacity:]
	}
}

// Recent returns the last limit events (0 or negative means all), in
// arrival order.
func (l *EventLog) Recent(limit int) []EventRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.events) {
		limit = len(l.events)
	}
	out := make([]EventRecord, limit)
	copy(out, l.events[len(l.events)-limit:])
	return out
}

// since returns every event at or after cutoff.
func (l *EventLog) since(cutoff time.Time) []EventRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []EventRecord
	for _, e := range l.events {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Alert is a derived signal from recent event activity.
type Alert struct {
	Kind    string
	Detail  string
	Count   int
	Subject string // IP, user, or session depending on Kind
}

// promptInjectionTags are the tag values EventRecord.Tags carries when the
// request pipeline flagged suspected prompt-injection content in the
// payload text. The exact tagging heuristic lives upstream of this
// package; telemetry only aggregates what it is told.
var promptInjectionTags = map[string]bool{
	"prompt_injection_suspected": true,
}

// DeriveAlerts scans the last 10 minutes of events for:
// invalid-token bursts per IP, RPM anomalies per token hash, suspected
// prompt-injection tags, and quota-nearing users (the names the caller
// passes in quotaNearing; one alert per name).
func (l *EventLog) DeriveAlerts(now time.Time, quotaNearing []string) []Alert {
	recent := l.since(now.Add(-10 * time.Minute))

	invalidByIP := map[string]int{}
	rpmByToken := map[string]int{}
	injectionByIP := map[string]int{}

	for _, e := range recent {
		if e.Status == 401 {
			invalidByIP[e.IP]++
		}
		if e.TokenHash != "" {
			rpmByToken[e.TokenHash]++
		}
		for _, tag := range e.Tags {
			if promptInjectionTags[tag] {
				injectionByIP[e.IP]++
			}
		}
	}

	var alerts []Alert
	for ip, count := range invalidByIP {
		if count >= 5 {
			alerts = append(alerts, Alert{Kind: "invalid_token_burst", Subject: ip, Count: count,
				Detail: "repeated unauthorized requests from a single source"})
		}
	}
	for tok, count := range rpmByToken {
		if count >= 100 {
			alerts = append(alerts, Alert{Kind: "rpm_anomaly", Subject: tok, Count: count,
				Detail: "unusually high request volume for a single token in 10 minutes"})
		}
	}
	for ip, count := range injectionByIP {
		alerts = append(alerts, Alert{Kind: "prompt_injection_suspected", Subject: ip, Count: count,
			Detail: "payload tagged as suspected prompt injection"})
	}
	for _, name := range quotaNearing {
		alerts = append(alerts, Alert{Kind: "quota_nearing", Subject: name, Count: 1,
			Detail: "account is within its low-credit threshold"})
	}
	return alerts
}

// ClientIPFromRemoteAddr strips the port from a net.Conn-style
// "host:port" remote address, used both as the affinity key and the
// event IP field.
func ClientIPFromRemoteAddr(remoteAddr string) string {
	if i := strings.LastIndex(remoteAddr, ":"); i != -1 && !strings.Contains(remoteAddr[i+1:], "]") {
		return remoteAddr[:i]
	}
	return remoteAddr
}
