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

// Package config loads the gateway's immutable, environment-derived
// configuration once at startup.
package config

import (
	"time"

	"github.com/gravitational/trace"
	"github.com/kelseyhightower/envconfig"
)

// Gateway holds every environment-derived knob the gateway process reads
// once at startup; nothing downstream mutates it. The *Ms fields are
// time.Duration values parsed with time.ParseDuration, so their
// environment values carry a unit (e.g. "30000ms").
type Gateway struct {
	Port int    `envconfig:"PORT" default:"8089"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	MaxRPMPerToken int `envconfig:"MAX_RPM_PER_TOKEN" default:"30"`
	EventRetention int `envconfig:"EVENT_RETENTION" default:"2000"`

	AccountPoolFile          string        `envconfig:"ACCOUNT_POOL_FILE" default:"config/accounts.json"`
	AccountHealthcheckMs     time.Duration `envconfig:"ACCOUNT_HEALTHCHECK_MS" default:"30000ms"`
	AccountHealthcheckTimeoutMs time.Duration `envconfig:"ACCOUNT_HEALTHCHECK_TIMEOUT_MS" default:"2500ms"`
	DefaultAccountDailyLimit int64         `envconfig:"DEFAULT_ACCOUNT_DAILY_LIMIT" default:"0"`

	SessionsFile string `envconfig:"SESSIONS_FILE" default:"config/sessions.json"`
	UsersFile    string `envconfig:"USERS_FILE" default:"config/users.json"`

	UpstreamTimeoutMs time.Duration `envconfig:"UPSTREAM_TIMEOUT_MS" default:"120000ms"`

	SessionKeepaliveMs    time.Duration `envconfig:"SESSION_KEEPALIVE_MS" default:"300000ms"`
	SessionHealthCheckMs  time.Duration `envconfig:"SESSION_HEALTHCHECK_MS" default:"60000ms"`
	SessionAffinityTTLMs  time.Duration `envconfig:"SESSION_AFFINITY_TTL_MS" default:"1800000ms"`
	MaxUsersPerSession    int           `envconfig:"MAX_USERS_PER_SESSION" default:"4"`

	TrialInitialCredits       float64 `envconfig:"TRIAL_INITIAL_CREDITS" default:"100"`
	TrialLowCreditsThreshold  float64 `envconfig:"TRIAL_LOW_CREDITS_THRESHOLD" default:"10"`

	TokenRefreshIntervalMs time.Duration `envconfig:"TOKEN_REFRESH_INTERVAL_MS" default:"2700000ms"`
	FirebaseAPIKey         string        `envconfig:"FIREBASE_API_KEY"`
	TokenRefreshURL        string        `envconfig:"TOKEN_REFRESH_URL"`
	JWTSecret              string        `envconfig:"JWT_SECRET"`

	// RefundOnUpstreamFailure is loaded and passed to gatewayhttp.Deps,
	// but no request path reads it: a user's deducted credits are not
	// restored after an upstream failure, whatever its value.
	RefundOnUpstreamFailure bool `envconfig:"REFUND_ON_UPSTREAM_FAILURE" default:"false"`

	// SimulateMode enables the deterministic synthesised-completion
	// fallback; never on by default.
	SimulateMode bool `envconfig:"SIMULATE_MODE" default:"false"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"aegisgate"`
}

// Load reads Gateway from the process environment.
func Load() (*Gateway, error) {
	var cfg Gateway
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, trace.Wrap(err, "loading gateway configuration")
	}
	if err := cfg.validate(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &cfg, nil
}

func (c *Gateway) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return trace.BadParameter("invalid PORT %d", c.Port)
	}
	if c.MaxRPMPerToken < 1 {
		return trace.BadParameter("MAX_RPM_PER_TOKEN must be at least 1")
	}
	if c.MaxUsersPerSession < 1 {
		return trace.BadParameter("MAX_USERS_PER_SESSION must be at least 1")
	}
	if c.TrialLowCreditsThreshold < 0 || c.TrialLowCreditsThreshold > c.TrialInitialCredits {
		return trace.BadParameter("TRIAL_LOW_CREDITS_THRESHOLD must be between 0 and TRIAL_INITIAL_CREDITS")
	}
	return nil
}
