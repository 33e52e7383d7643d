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

// Package health runs the session pool's background lifecycle: periodic
// keepalive pings, health-check probes with consecutive failure/recovery
// thresholds, expiry sweeps, and refresh-token rotation.
package health

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/gravitational-labs/aegisgate/internal/adapter"
	"github.com/gravitational-labs/aegisgate/internal/session"
)

func newReader(body []byte) io.Reader {
	return bytes.NewReader(body)
}

// Prober sends a session's keepalive or health-check request upstream and
// reports whether the session answered. Kept as an interface so tests can
// substitute a scripted double instead of a real HTTP round trip.
type Prober interface {
	Probe(ctx context.Context, url, contentType string, body []byte) error
}

// httpProber is the production Prober: it POSTs the envelope to url and
// treats any non-2xx status, or a transport error, as a probe failure.
type httpProber struct {
	client *http.Client
}

// NewHTTPProber builds a Prober bounded by timeout per call.
func NewHTTPProber(timeout time.Duration) Prober {
	return &httpProber{client: &http.Client{Timeout: timeout}}
}

func (p *httpProber) Probe(ctx context.Context, url, contentType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, newReader(body))
	if err != nil {
		return trace.Wrap(err)
	}
	req.Header.Set("content-type", contentType)
	resp, err := p.client.Do(req)
	if err != nil {
		return trace.ConnectionProblem(err, "probe request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return trace.ConnectionProblem(nil, "probe returned status %d", resp.StatusCode)
	}
	return nil
}

// TokenRefresher exchanges a session's refresh token for a new JWT. The
// concrete implementation (an HTTP call to FIREBASE_API_KEY /
// TOKEN_REFRESH_URL) is injected so the monitor stays transport-agnostic
// and testable.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (newJWT string, newRefreshToken string, err error)
}

// Config wires the monitor's dependencies and tunables.
type Config struct {
	Store     *session.Store
	Adapters  *adapter.Registry
	Prober    Prober
	Refresher TokenRefresher
	Clock     clockwork.Clock
	Log       logrus.FieldLogger

	KeepaliveInterval    time.Duration
	HealthCheckInterval  time.Duration
	TokenRefreshInterval time.Duration

	FailureThreshold  int
	RecoveryThreshold int
}

func (c *Config) checkAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if c.Adapters == nil {
		return trace.BadParameter("missing parameter Adapters")
	}
	if c.Prober == nil {
		return trace.BadParameter("missing parameter Prober")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = 5 * time.Minute
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = time.Minute
	}
	if c.TokenRefreshInterval == 0 {
		c.TokenRefreshInterval = 45 * time.Minute
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
	if c.RecoveryThreshold == 0 {
		c.RecoveryThreshold = 2
	}
	return nil
}

// Monitor runs the three independent background loops described by
//: keepalive, health check, and token refresh. Each loop
// owns its own ticker so a slow probe on one never delays the others.
type Monitor struct {
	cfg Config
}

// New validates cfg and constructs a Monitor.
func New(cfg Config) (*Monitor, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Monitor{cfg: cfg}, nil
}

// Run blocks, driving all three loops until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	go m.runLoop(ctx, "keepalive", m.cfg.KeepaliveInterval, m.runKeepalive)
	go m.runLoop(ctx, "health_check", m.cfg.HealthCheckInterval, m.runHealthChecks)
	go m.runLoop(ctx, "token_refresh", m.cfg.TokenRefreshInterval, m.runTokenRefresh)
	<-ctx.Done()
}

func (m *Monitor) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	ticker := m.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()
	log := m.cfg.Log.WithField("loop", name)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			fn(ctx)
			log.Debug("tick complete")
		}
	}
}

// runKeepalive pings every enabled session so the upstream session doesn't
// time out from inactivity.
func (m *Monitor) runKeepalive(ctx context.Context) {
	for _, sess := range m.cfg.Store.List() {
		if !sess.Enabled {
			continue
		}
		a, err := m.cfg.Adapters.Get(sess.Platform)
		if err != nil {
			continue
		}
		body, contentType, err := a.KeepaliveRequest(sess.Creds.APIKey, sess.Creds.JWT)
		if err != nil {
			continue
		}
		url := a.UpstreamURL("/keepalive")
		if err := m.cfg.Prober.Probe(ctx, url, contentType, body); err != nil {
			m.cfg.Log.WithError(err).WithField("session", sess.ID).Warn("keepalive probe failed")
			continue
		}
		now := m.cfg.Clock.Now()
		_ = m.cfg.Store.Update(sess.ID, func(s *session.Session) {
			s.LastKeepaliveAt = now
		})
	}
}

// runHealthChecks probes every session not already disabled for a non-health
// reason, applying the consecutive failure/recovery thresholds from
// and (re-enabling clears disabledReason).
func (m *Monitor) runHealthChecks(ctx context.Context) {
	now := m.cfg.Clock.Now()
	m.cfg.Store.ExpireStale(now)

	for _, sess := range m.cfg.Store.List() {
		if sess.DisabledReason == session.ReasonDisabledInConfig || sess.DisabledReason == session.ReasonQuotaExhausted || sess.DisabledReason == session.ReasonSessionExpired {
			continue
		}
		a, err := m.cfg.Adapters.Get(sess.Platform)
		if err != nil {
			continue
		}
		body, contentType, err := a.HealthCheckRequest(sess.Creds.APIKey, sess.Creds.JWT)
		if err != nil {
			continue
		}
		url := a.UpstreamURL("/health")
		probeErr := m.cfg.Prober.Probe(ctx, url, contentType, body)

		checkedAt := m.cfg.Clock.Now()
		sessID := sess.ID
		_ = m.cfg.Store.Update(sessID, func(s *session.Session) {
			s.LastHealthCheckAt = checkedAt
			if probeErr != nil {
				s.ConsecutiveFails++
				s.ConsecutiveOK = 0
				if s.Enabled && s.ConsecutiveFails >= m.cfg.FailureThreshold {
					s.Disable(session.ReasonHealthCheckFailed)
				}
				return
			}
			s.ConsecutiveOK++
			s.ConsecutiveFails = 0
			if !s.Enabled && s.DisabledReason == session.ReasonHealthCheckFailed && s.ConsecutiveOK >= m.cfg.RecoveryThreshold {
				s.Enable()
			}
		})
		if probeErr != nil {
			m.cfg.Log.WithError(probeErr).WithField("session", sessID).Warn("health check failed")
		}
	}
}

// jwtRefreshSkew is how far ahead of a JWT's exp claim runTokenRefresh
// rotates it, so a session never gets caught mid-request with a token the
// Platform has already rejected.
const jwtRefreshSkew = 5 * time.Minute

// runTokenRefresh rotates any session whose JWT is within jwtRefreshSkew of
// its exp claim (or whose claim can't be decoded at all). The refresh
// transport is pluggable rather than hardcoded to one vendor's token
// endpoint.
func (m *Monitor) runTokenRefresh(ctx context.Context) {
	if m.cfg.Refresher == nil {
		return
	}
	now := m.cfg.Clock.Now()
	for _, sess := range m.cfg.Store.List() {
		if !sess.Enabled || sess.Creds.RefreshToken == "" {
			continue
		}
		if !jwtExpiringSoon(sess.Creds.JWT, now, jwtRefreshSkew) {
			continue
		}
		newJWT, newRefresh, err := m.cfg.Refresher.Refresh(ctx, sess.Creds.RefreshToken)
		if err != nil {
			m.cfg.Log.WithError(err).WithField("session", sess.ID).Warn("token refresh failed")
			continue
		}
		sessID := sess.ID
		_ = m.cfg.Store.Update(sessID, func(s *session.Session) {
			s.Creds.JWT = newJWT
			if newRefresh != "" {
				s.Creds.RefreshToken = newRefresh
			}
		})
	}
}
