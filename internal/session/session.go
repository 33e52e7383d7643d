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

// Package session implements the pool of harvested Platform sessions: their
// immutable identity, mutable credentials, runtime counters, and the
// ordered store that selects and persists them.
package session

import "time"

// DisableReason enumerates why a session is disabled. The zero value means
// "no reason" / enabled.
type DisableReason string

const (
	ReasonNone               DisableReason = ""
	ReasonDisabledInConfig   DisableReason = "disabled_in_config"
	ReasonQuotaExhausted     DisableReason = "quota_exhausted"
	ReasonSessionExpired     DisableReason = "session_expired"
	ReasonHealthCheckFailed  DisableReason = "health_check_failed"
)

// Credentials are the mutable, sensitive fields a Session owns. Exposing
// these through any admin/status surface must mask all but the last four
// characters.
type Credentials struct {
	APIKey        string
	JWT           string
	RefreshToken  string
	DeviceID      string
	EditorVersion string
	Locale        string
	OSTag         string
	MachineID     string
}

// Session is one harvested Platform session in the pool.
type Session struct {
	ID       string
	Platform string
	Owner    string // email or label

	Creds Credentials

	Enabled          bool
	DisabledReason   DisableReason
	ConsecutiveFails int
	ConsecutiveOK    int

	LastKeepaliveAt   time.Time
	LastHealthCheckAt time.Time
	LastUsedAt        time.Time

	UsedRequests int64
	UsedTokens   int64
	DailyLimit   int64 // 0 == unlimited

	AcquiredAt time.Time
	ExpiresAt  time.Time // zero == no explicit expiry

	SessionMaxAge time.Duration // 0 == no max-age policy

	CreditsRemaining float64
	CreditsTotal     float64

	RequestsServed int64
	LastModelSeen  string
}

// Masked returns a copy of the credentials with everything but the last
// four characters replaced by asterisks, safe to serialise into admin
// status responses or logs.
func (c Credentials) Masked() Credentials {
	return Credentials{
		APIKey:        maskTail(c.APIKey),
		JWT:           maskTail(c.JWT),
		RefreshToken:  maskTail(c.RefreshToken),
		DeviceID:      c.DeviceID,
		EditorVersion: c.EditorVersion,
		Locale:        c.Locale,
		OSTag:         c.OSTag,
		MachineID:     c.MachineID,
	}
}

func maskTail(s string) string {
	if s == "" {
		return ""
	}
	const keep = 4
	if len(s) <= keep {
		return "****"
	}
	masked := make([]byte, len(s)-keep)
	for i := range masked {
		masked[i] = '*'
	}
	return string(masked) + s[len(s)-keep:]
}

// Expired reports whether the session should be treated as expired at
// instant now: either an explicit ExpiresAt has passed, or the
// acquisition-time max-age policy has elapsed.
func (s *Session) Expired(now time.Time) bool {
	if !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now) {
		return true
	}
	if s.SessionMaxAge > 0 && s.AcquiredAt.Add(s.SessionMaxAge).Before(now) {
		return true
	}
	return false
}

// Disable atomically sets the disabled state and reason.
func (s *Session) Disable(reason DisableReason) {
	s.Enabled = false
	s.DisabledReason = reason
}

// Enable atomically clears the disabled state (: enabling
// requires disabledReason := null).
func (s *Session) Enable() {
	s.Enabled = true
	s.DisabledReason = ReasonNone
}
