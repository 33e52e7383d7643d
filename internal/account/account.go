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

// Package account implements the local pool of OpenAI-compatible upstream
// accounts: a stored baseURL/API key pair the gateway forwards to directly,
// as an alternative to relaying through a harvested Platform session.
package account

import "time"

// DisableReason enumerates why an account is disabled. The zero value means
// "no reason" / enabled.
type DisableReason string

const (
	ReasonNone              DisableReason = ""
	ReasonDisabledInConfig  DisableReason = "disabled_in_config"
	ReasonDailyLimitReached DisableReason = "daily_limit_reached"
	ReasonHealthCheckFailed DisableReason = "health_check_failed"
)

// Account is one OpenAI-compatible upstream credential in the local pool.
type Account struct {
	ID      string
	BaseURL string
	APIKey  string
	Model   string // preferred/default model; empty means accept any

	Enabled        bool
	DisabledReason DisableReason

	ConsecutiveFails int
	ConsecutiveOK    int

	DailyLimit int64 // 0 == unlimited
	UsedTokens int64

	RequestsServed    int64
	LastHealthCheckAt time.Time
}

// Masked returns a copy with everything but the API key's last four
// characters replaced by asterisks, safe to serialise into admin responses.
func (a Account) Masked() Account {
	a.APIKey = maskTail(a.APIKey)
	return a
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

// Disable atomically sets the disabled state and reason.
func (a *Account) Disable(reason DisableReason) {
	a.Enabled = false
	a.DisabledReason = reason
}

// Enable atomically clears the disabled state.
func (a *Account) Enable() {
	a.Enabled = true
	a.DisabledReason = ReasonNone
}
