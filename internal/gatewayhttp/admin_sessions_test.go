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
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational-labs/aegisgate/internal/session"
)

func TestHandleAdminSessionsRegisterMasksCredentials(t *testing.T) {
	srv, sessions, _, _ := testServer(t)

	rec := doRequest(srv, http.MethodPost, "/admin/sessions/register", registerSessionRequest{
		ID: "s1", Platform: "server.codeium.com", APIKey: "sk-real-key", CreditsTotal: 100,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view sessionStatusView
	decodeJSON(t, rec.Body, &view)
	require.NotEqual(t, "sk-real-key", view.Creds.APIKey)

	stored, ok := sessions.Get("s1")
	require.True(t, ok)
	require.Equal(t, "sk-real-key", stored.Creds.APIKey)
}

func TestHandleAdminSessionsRegisterRequiresIDAndPlatform(t *testing.T) {
	srv, _, _, _ := testServer(t)
	rec := doRequest(srv, http.MethodPost, "/admin/sessions/register", registerSessionRequest{Owner: "nobody"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAdminSessionsRemoveEvictsAffinity(t *testing.T) {
	srv, sessions, _, _ := testServer(t)
	require.NoError(t, sessions.Add(&session.Session{ID: "s1", Platform: "server.codeium.com", Enabled: true}))

	rec := doRequest(srv, http.MethodPost, "/admin/sessions/remove", sessionIDRequest{ID: "s1"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok := sessions.Get("s1")
	require.False(t, ok)
}

func TestHandleAdminSessionsStatusListsAll(t *testing.T) {
	srv, sessions, _, _ := testServer(t)
	require.NoError(t, sessions.Add(&session.Session{ID: "s1", Platform: "server.codeium.com", Enabled: true}))
	require.NoError(t, sessions.Add(&session.Session{ID: "s2", Platform: "server.codeium.com", Enabled: false}))

	rec := doRequest(srv, http.MethodGet, "/admin/sessions/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sessions []sessionStatusView `json:"sessions"`
	}
	decodeJSON(t, rec.Body, &body)
	require.Len(t, body.Sessions, 2)
}

func TestHandleAdminSessionsHealthCheckUsesOverriddenClient(t *testing.T) {
	srv, sessions, _, _ := testServer(t)
	require.NoError(t, sessions.Add(&session.Session{ID: "s1", Platform: "server.codeium.com", Enabled: true}))
	srv.deps.UpstreamClient = &fakeHTTPDoer{status: http.StatusOK}

	rec := doRequest(srv, http.MethodPost, "/admin/sessions/health-check", sessionIDRequest{ID: "s1"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeJSON(t, rec.Body, &body)
	require.Equal(t, true, body["healthy"])
}
