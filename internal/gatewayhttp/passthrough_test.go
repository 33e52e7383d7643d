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
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational-labs/aegisgate/internal/session"
)

// fakeHTTPDoer stubs the upstream HTTP round trip so tests never touch the
// network: it records the last request and replays a canned response.
type fakeHTTPDoer struct {
	status  int
	body    []byte
	err     error
	lastReq *http.Request
}

func (f *fakeHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"content-type": {"application/grpc"}},
		Body:       io.NopCloser(bytes.NewReader(f.body)),
	}, nil
}

func TestHandlePlatformPassthroughSplicesAndForwards(t *testing.T) {
	srv, sessions, _, _ := testServer(t)
	require.NoError(t, sessions.Add(&session.Session{
		ID: "s1", Platform: "server.codeium.com", Enabled: true, CreditsRemaining: 10, CreditsTotal: 10,
		Creds: session.Credentials{APIKey: "real-api-key", JWT: "real-jwt"},
	}))
	doer := &fakeHTTPDoer{status: http.StatusOK, body: []byte("ok")}
	srv.deps.UpstreamClient = doer

	req := httpRequestWithBody(t, http.MethodPost, "/exa.api_server_pb.ApiServerService/GetChatMessage", []byte("ping"))
	rec := httptest.NewRecorder()
	srv.instrument(srv.dispatch()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, doer.lastReq)
	require.Contains(t, doer.lastReq.URL.String(), "server.codeium.com")
}

func TestPickSessionFallsBackWhenNoAffinityBinding(t *testing.T) {
	srv, sessions, _, _ := testServer(t)
	require.NoError(t, sessions.Add(&session.Session{ID: "s1", Platform: "server.codeium.com", Enabled: true, CreditsRemaining: 5}))

	req := httpRequestWithBody(t, http.MethodPost, "/exa.x/y", nil)
	got, err := srv.pickSession(req)
	require.NoError(t, err)
	require.Equal(t, "s1", got.ID)
}

func TestPickSessionErrorsWhenPoolEmpty(t *testing.T) {
	srv, _, _, _ := testServer(t)
	req := httpRequestWithBody(t, http.MethodPost, "/exa.x/y", nil)
	_, err := srv.pickSession(req)
	require.Error(t, err)
}

func httpRequestWithBody(t *testing.T, method, path string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, "http://gateway.local"+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.RemoteAddr = "10.0.0.5:1234"
	return req
}
