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

package gatewayhttp

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational-labs/aegisgate/internal/adapter"
	"github.com/gravitational-labs/aegisgate/internal/affinity"
	"github.com/gravitational-labs/aegisgate/internal/quota"
	"github.com/gravitational-labs/aegisgate/internal/session"
	"github.com/gravitational-labs/aegisgate/internal/splice"
	"github.com/gravitational-labs/aegisgate/internal/telemetry"
)

// clientKey resolves the affinity cache key for a request: the bearer
// token when present, else the client IP.
func clientKey(r *http.Request) string {
	if tok := bearerToken(r); tok != "" {
		return tok
	}
	return telemetry.ClientIPFromRemoteAddr(r.RemoteAddr)
}

// handlePlatformPassthrough implements the raw "/exa.<service>/<method>"
// RPC passthrough: pick a session via affinity, splice its
// credentials into the request envelope, forward to the real Platform, and
// account the response against the session's usage counters and credit
// balance. No bearer user's credits are checked or deducted on this path.
func (s *Server) handlePlatformPassthrough(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.deps.MaxJSONBodyBytes))
	if err != nil {
		writeError(w, trace.BadParameter("reading request body: %v", err))
		return
	}

	sess, err := s.pickSession(r)
	if err != nil {
		writeError(w, err)
		return
	}

	adp, err := s.deps.Adapters.Get(sess.Platform)
	if err != nil {
		writeError(w, err)
		return
	}

	spliced := splice.Splice(body, splice.Credentials{APIKey: sess.Creds.APIKey, JWT: sess.Creds.JWT})

	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, adp.UpstreamURL(r.URL.Path), bytes.NewReader(spliced))
	if err != nil {
		writeError(w, trace.Wrap(err))
		return
	}
	upstreamReq.Header = r.Header.Clone()
	adp.RewriteHeaders(upstreamReq, sess.Creds.APIKey, sess.Creds.JWT)
	upstreamReq.ContentLength = int64(len(spliced))

	capture := &bodyCapture{ResponseWriter: w}
	s.forwarder.ServeHTTP(capture, upstreamReq)

	s.accountPassthrough(sess.ID, adp, capture.buf.Bytes())
}

// pickSession resolves the session a request should be forwarded through:
// an existing affinity binding when present and still eligible, else a
// fresh selection among the pool's enabled, credited sessions.
func (s *Server) pickSession(r *http.Request) (session.Session, error) {
	key := clientKey(r)

	if boundID, ok := s.deps.Affinity.Get(key); ok {
		if snap, found := s.deps.Sessions.Get(boundID); found && snap.Enabled && snap.CreditsRemaining > 0 {
			_ = s.deps.Affinity.Touch(key, boundID)
			return snap, nil
		}
		s.deps.Affinity.EvictSession(boundID)
	}

	all := s.deps.Sessions.List()
	candidates := make([]affinity.Candidate, 0, len(all))
	for _, sv := range all {
		candidates = append(candidates, affinity.Candidate{
			ID: sv.ID, Enabled: sv.Enabled, CreditsRemaining: sv.CreditsRemaining,
		})
	}

	fallback, _ := s.deps.Sessions.Pick("")
	chosen, err := s.deps.Affinity.Select(key, candidates, fallback.ID)
	if err != nil {
		return session.Session{}, trace.Wrap(err)
	}
	snap, found := s.deps.Sessions.Get(chosen)
	if !found {
		return session.Session{}, trace.NotFound("session %q vanished after selection", chosen)
	}
	return snap, nil
}

// accountPassthrough records usage counters, extracts the model used for
// session credit-cost accounting, and evicts affinity bindings if the
// session's credits just hit zero.
func (s *Server) accountPassthrough(sessionID string, adp adapter.Adapter, respBody []byte) {
	_ = s.deps.Sessions.RecordUsage(sessionID, int64(len(respBody)))

	model, ok := adp.ExtractModel(respBody)
	if !ok {
		return
	}
	s.deps.Sessions.SetModelSeen(sessionID, model)

	cost := quota.CostOf(model)
	if cost <= 0 {
		return
	}
	_, justDepleted, err := s.deps.Sessions.DeductCredits(sessionID, cost)
	if err == nil && justDepleted {
		s.deps.Affinity.EvictSession(sessionID)
	}
}

func (s *Server) httpClient() httpDoer {
	if s.deps.UpstreamClient != nil {
		return s.deps.UpstreamClient
	}
	return http.DefaultClient
}

// httpDoer is satisfied by *http.Client; tests substitute a stub.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}
