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

// Package defaults holds the knobs that have a sane out-of-the-box value but
// remain overridable via environment variables (see internal/config).
package defaults

import "time"

const (
	// ServiceName identifies this gateway in /health and logs.
	ServiceName = "aegisgate"

	// MaxRPMPerToken is the per bearer-token request budget in a 60s window.
	MaxRPMPerToken = 30

	// EventRetention bounds the in-memory EventRecord ring.
	EventRetention = 2000

	// BandwidthRetention bounds the in-memory request descriptor ring.
	BandwidthRetention = 200

	// DefaultAccountDailyLimit is used when an account carries no explicit
	// dailyLimit override.
	DefaultAccountDailyLimit = 0 // 0 == unlimited

	// UpstreamTimeout bounds any single call to the real Platform or an
	// OpenAI-compatible upstream.
	UpstreamTimeout = 120 * time.Second

	// AccountHealthcheckTimeout bounds an account-level health probe.
	AccountHealthcheckTimeout = 2500 * time.Millisecond

	// SessionHealthcheckTimeout bounds a session-level health probe.
	SessionHealthcheckTimeout = 5 * time.Second

	// KeepaliveInterval is the default period between keepalive pings.
	KeepaliveInterval = 5 * time.Minute

	// HealthCheckInterval is the default period between health probes.
	HealthCheckInterval = time.Minute

	// TokenRefreshInterval is the default period between refresh-token
	// sweeps.
	TokenRefreshInterval = 45 * time.Minute

	// SessionAffinityTTL is how long a client/session binding survives
	// without being renewed.
	SessionAffinityTTL = 30 * time.Minute

	// MaxUsersPerSession caps concurrent affinity bindings per session.
	MaxUsersPerSession = 4

	// AffinitySweepInterval is how often expired bindings are purged.
	AffinitySweepInterval = 5 * time.Minute

	// CreditRecoveryMinInterval is the floor on the credit-recovery
	// scheduler tick, regardless of how aggressive any user's own recovery
	// interval is configured.
	CreditRecoveryMinInterval = 10 * time.Minute

	// AccountHealthMonitorInterval is how often the account-level health
	// monitor runs (distinct from the finer-grained session health check).
	AccountHealthMonitorInterval = 30 * time.Second

	// HealthCheckFailureThreshold disables a session after this many
	// consecutive health-check failures.
	HealthCheckFailureThreshold = 3

	// HealthCheckRecoveryThreshold re-enables a health_check_failed session
	// after this many consecutive successes.
	HealthCheckRecoveryThreshold = 2

	// MaxJSONBodyBytes is the payload_too_large boundary for JSON request
	// bodies.
	MaxJSONBodyBytes = 1 << 20 // 1 MiB

	// PlatformHost is the canonical host the Platform expects in the
	// rewritten request (overridable via config for test doubles).
	PlatformHost = "server.codeium.com"

	// PlatformContentType is the content-type the Platform accepts on its
	// RPC endpoints.
	PlatformContentType = "application/grpc"

	// ClientContentType is the content-type IDEs are observed to send.
	ClientContentType = "application/connect+proto"
)
