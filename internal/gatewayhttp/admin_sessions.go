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
	"encoding/json"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational-labs/aegisgate/internal/session"
)

// sessionStatusView is the admin-facing session shape: credentials always
// masked.
type sessionStatusView struct {
	ID               string    `json:"id"`
	Platform         string    `json:"platform"`
	Owner            string    `json:"owner"`
	Enabled          bool      `json:"enabled"`
	DisabledReason   string    `json:"disabledReason,omitempty"`
	ConsecutiveFails int       `json:"consecutiveFailures"`
	UsedRequests     int64     `json:"usedRequests"`
	UsedTokens       int64     `json:"usedTokens"`
	CreditsRemaining float64   `json:"creditsRemaining"`
	CreditsTotal     float64   `json:"creditsTotal"`
	RequestsServed   int64     `json:"requestsServed"`
	LastModelSeen    string    `json:"lastModelSeen,omitempty"`
	Creds            credsView `json:"credentials"`
}

type credsView struct {
	APIKey       string `json:"apiKey,omitempty"`
	JWT          string `json:"jwt,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

func toSessionStatusView(s session.Session) sessionStatusView {
	masked := s.Creds.Masked()
	return sessionStatusView{
		ID: s.ID, Platform: s.Platform, Owner: s.Owner, Enabled: s.Enabled,
		DisabledReason: string(s.DisabledReason), ConsecutiveFails: s.ConsecutiveFails,
		UsedRequests: s.UsedRequests, UsedTokens: s.UsedTokens,
		CreditsRemaining: s.CreditsRemaining, CreditsTotal: s.CreditsTotal,
		RequestsServed: s.RequestsServed, LastModelSeen: s.LastModelSeen,
		Creds: credsView{APIKey: masked.APIKey, JWT: masked.JWT, RefreshToken: masked.RefreshToken},
	}
}

// handleAdminSessionsStatus lists every session in the pool, credentials
// masked.
func (s *Server) handleAdminSessionsStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	all := s.deps.Sessions.List()
	views := make([]sessionStatusView, 0, len(all))
	for _, sess := range all {
		views = append(views, toSessionStatusView(sess))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": views})
}

type registerSessionRequest struct {
	ID           string  `json:"id"`
	Platform     string  `json:"platform"`
	Owner        string  `json:"owner"`
	APIKey       string  `json:"apiKey"`
	JWT          string  `json:"jwt"`
	RefreshToken string  `json:"refreshToken"`
	DailyLimit   int64   `json:"dailyLimit"`
	CreditsTotal float64 `json:"creditsTotal"`
}

// handleAdminSessionsRegister adds a harvested session to the pool.
func (s *Server) handleAdminSessionsRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req registerSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, trace.BadParameter("invalid JSON body: %v", err))
		return
	}
	if req.ID == "" || req.Platform == "" {
		writeError(w, trace.BadParameter("id and platform are required"))
		return
	}

	sess := &session.Session{
		ID:       req.ID,
		Platform: req.Platform,
		Owner:    req.Owner,
		Enabled:  true,
		Creds: session.Credentials{
			APIKey:       req.APIKey,
			JWT:          req.JWT,
			RefreshToken: req.RefreshToken,
		},
		DailyLimit:       req.DailyLimit,
		CreditsRemaining: req.CreditsTotal,
		CreditsTotal:     req.CreditsTotal,
	}
	if err := s.deps.Sessions.Add(sess); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Sessions.Save(); err != nil {
		s.deps.Log.WithError(err).Warn("admin: failed to persist sessions after register")
	}
	writeJSON(w, http.StatusOK, toSessionStatusView(*sess))
}

type sessionIDRequest struct {
	ID string `json:"id"`
}

// handleAdminSessionsRemove drops a session from the pool.
func (s *Server) handleAdminSessionsRemove(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req sessionIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, trace.BadParameter("invalid JSON body: %v", err))
		return
	}
	if err := s.deps.Sessions.Remove(req.ID); err != nil {
		writeError(w, err)
		return
	}
	s.deps.Affinity.EvictSession(req.ID)
	if err := s.deps.Sessions.Save(); err != nil {
		s.deps.Log.WithError(err).Warn("admin: failed to persist sessions after remove")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": req.ID})
}

// handleAdminSessionsReload re-reads config/sessions.json, preserving
// in-memory runtime counters.
func (s *Server) handleAdminSessionsReload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.deps.Sessions.Reload(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reloaded": true})
}

// handleAdminSessionsHealthCheck runs an immediate health probe against one
// session using the registered adapter, independent of the background
// health-monitor loop's own schedule.
func (s *Server) handleAdminSessionsHealthCheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req sessionIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, trace.BadParameter("invalid JSON body: %v", err))
		return
	}
	sess, ok := s.deps.Sessions.Get(req.ID)
	if !ok {
		writeError(w, trace.NotFound("session %q not found", req.ID))
		return
	}
	adp, err := s.deps.Adapters.Get(sess.Platform)
	if err != nil {
		writeError(w, err)
		return
	}
	body, contentType, err := adp.HealthCheckRequest(sess.Creds.APIKey, sess.Creds.JWT)
	if err != nil {
		writeError(w, trace.Wrap(err))
		return
	}
	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, adp.UpstreamURL("/health-check"), bytes.NewReader(body))
	if err != nil {
		writeError(w, trace.Wrap(err))
		return
	}
	upstreamReq.Header.Set("content-type", contentType)
	adp.RewriteHeaders(upstreamReq, sess.Creds.APIKey, sess.Creds.JWT)

	resp, err := s.httpClient().Do(upstreamReq)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": req.ID, "healthy": false, "error": err.Error()})
		return
	}
	defer resp.Body.Close()
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": req.ID, "healthy": resp.StatusCode < 400})
}
