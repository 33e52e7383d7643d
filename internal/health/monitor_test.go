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

package health

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational-labs/aegisgate/internal/adapter"
	"github.com/gravitational-labs/aegisgate/internal/session"
)

// scriptedProber returns errs[callCount] in sequence, defaulting to nil
// once the script is exhausted.
type scriptedProber struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (p *scriptedProber) Probe(ctx context.Context, url, contentType string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.calls < len(p.errs) {
		err = p.errs[p.calls]
	}
	p.calls++
	return err
}

func newTestMonitor(t *testing.T, prober *scriptedProber) (*Monitor, *session.Store, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store := session.NewStore(t.TempDir()+"/sessions.json", clock)
	require.NoError(t, store.Add(&session.Session{ID: "s1", Platform: "platform", Enabled: true}))

	registry := adapter.NewRegistry()
	registry.Register(&platformStub{})

	m, err := New(Config{
		Store:             store,
		Adapters:          registry,
		Prober:            prober,
		Clock:             clock,
		FailureThreshold:  3,
		RecoveryThreshold: 2,
	})
	require.NoError(t, err)
	return m, store, clock
}

// platformStub satisfies adapter.Adapter with fixed, deterministic bodies.
type platformStub struct{}

func (platformStub) ID() string                     { return "platform" }
func (platformStub) UpstreamURL(path string) string { return "https://upstream.example" + path }
func (platformStub) RewriteHeaders(req *http.Request, apiKey, jwt string) {}
func (platformStub) KeepaliveRequest(apiKey, jwt string) ([]byte, string, error) {
	return []byte("ka"), "application/grpc", nil
}
func (platformStub) HealthCheckRequest(apiKey, jwt string) ([]byte, string, error) {
	return []byte("hc"), "application/grpc", nil
}
func (platformStub) ExtractModel(respBody []byte) (string, bool) { return "", false }
func (platformStub) ToPlatform(apiKey, jwt, model string, messages []adapter.ChatMessage) ([]byte, string, error) {
	return []byte("chat"), "application/grpc", nil
}
func (platformStub) FromPlatform(respBody []byte) (string, error) { return "", nil }

func TestHealthCheckDisablesAfterThresholdFailures(t *testing.T) {
	prober := &scriptedProber{errs: []error{assertErr, assertErr, assertErr}}
	m, store, _ := newTestMonitor(t, prober)

	m.runHealthChecks(context.Background())
	m.runHealthChecks(context.Background())
	sess, _ := store.Get("s1")
	require.True(t, sess.Enabled, "should still be enabled before third failure")

	m.runHealthChecks(context.Background())
	sess, _ = store.Get("s1")
	require.False(t, sess.Enabled)
	require.Equal(t, session.ReasonHealthCheckFailed, sess.DisabledReason)
}

func TestHealthCheckRecoversAfterThresholdSuccesses(t *testing.T) {
	prober := &scriptedProber{errs: []error{assertErr, assertErr, assertErr}}
	m, store, _ := newTestMonitor(t, prober)

	for i := 0; i < 3; i++ {
		m.runHealthChecks(context.Background())
	}
	sess, _ := store.Get("s1")
	require.False(t, sess.Enabled)

	m.runHealthChecks(context.Background())
	m.runHealthChecks(context.Background())
	sess, _ = store.Get("s1")
	require.True(t, sess.Enabled)
	require.Equal(t, session.ReasonNone, sess.DisabledReason)
}

func TestHealthCheckSkipsQuotaExhaustedSessions(t *testing.T) {
	prober := &scriptedProber{}
	m, store, _ := newTestMonitor(t, prober)
	require.NoError(t, store.Update("s1", func(s *session.Session) {
		s.Disable(session.ReasonQuotaExhausted)
	}))

	m.runHealthChecks(context.Background())
	require.Equal(t, 0, prober.calls)
}

func TestKeepaliveUpdatesLastKeepaliveAt(t *testing.T) {
	prober := &scriptedProber{}
	m, store, clock := newTestMonitor(t, prober)

	m.runKeepalive(context.Background())
	sess, _ := store.Get("s1")
	require.Equal(t, clock.Now(), sess.LastKeepaliveAt)
}

var assertErr = errProbe{}

type errProbe struct{}

func (errProbe) Error() string { return "probe failed" }

// scriptedRefresher records every refresh token it was asked to rotate and
// always returns the same canned JWT/refresh-token pair.
type scriptedRefresher struct {
	calls []string
}

func (r *scriptedRefresher) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	r.calls = append(r.calls, refreshToken)
	return "rotated-jwt", "rotated-refresh", nil
}

func TestTokenRefreshSkipsSessionsWithFreshJWT(t *testing.T) {
	prober := &scriptedProber{}
	m, store, clock := newTestMonitor(t, prober)
	refresher := &scriptedRefresher{}
	m.cfg.Refresher = refresher

	farFuture := signJWT(t, clock.Now().Add(time.Hour).Unix())
	require.NoError(t, store.Update("s1", func(s *session.Session) {
		s.Creds.JWT = farFuture
		s.Creds.RefreshToken = "refresh-1"
	}))

	m.runTokenRefresh(context.Background())
	require.Empty(t, refresher.calls)
}

func TestTokenRefreshRotatesExpiringJWT(t *testing.T) {
	prober := &scriptedProber{}
	m, store, clock := newTestMonitor(t, prober)
	refresher := &scriptedRefresher{}
	m.cfg.Refresher = refresher

	almostExpired := signJWT(t, clock.Now().Add(time.Minute).Unix())
	require.NoError(t, store.Update("s1", func(s *session.Session) {
		s.Creds.JWT = almostExpired
		s.Creds.RefreshToken = "refresh-1"
	}))

	m.runTokenRefresh(context.Background())
	require.Equal(t, []string{"refresh-1"}, refresher.calls)

	sess, _ := store.Get("s1")
	require.Equal(t, "rotated-jwt", sess.Creds.JWT)
	require.Equal(t, "rotated-refresh", sess.Creds.RefreshToken)
}
