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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/gravitational-labs/aegisgate/internal/adapter"
	"github.com/gravitational-labs/aegisgate/internal/affinity"
	"github.com/gravitational-labs/aegisgate/internal/quota"
	"github.com/gravitational-labs/aegisgate/internal/session"
	"github.com/gravitational-labs/aegisgate/internal/telemetry"
)

// testServer builds a Server wired to fresh in-memory stores, rooted at a
// scratch directory so Save() calls never touch a shared fixture.
func testServer(t *testing.T) (*Server, *session.Store, *quota.UserStore, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	dir := t.TempDir()

	sessions := session.NewStore(dir+"/sessions.json", clock)
	users := quota.NewUserStore(dir+"/users.json", clock)
	engine := quota.NewEngine(users, 30, clock)

	affinityRouter, err := affinity.NewRouter(affinity.Config{
		TTL: 0, MaxUsersPerSess: 4, Clock: clock, Log: logrus.StandardLogger(),
	})
	require.NoError(t, err)

	adapters := adapter.NewRegistry()
	adapters.Register(&adapter.PlatformAdapter{
		Host: "server.codeium.com", BaseURL: "https://server.codeium.com", ContentType: "application/grpc",
	})

	srv := New("127.0.0.1:0", Deps{
		Sessions:     sessions,
		Users:        users,
		Engine:       engine,
		Affinity:     affinityRouter,
		Adapters:     adapters,
		Bandwidth:    telemetry.NewBandwidth(50, clock),
		Events:       telemetry.NewEventLog(50, clock),
		Clock:        clock,
		Log:          logrus.StandardLogger(),
		SimulateMode: true,
	})
	return srv, sessions, users, clock
}

func doRequest(srv *Server, method, path string, body interface{}, bearer string) *httptest.ResponseRecorder {
	req := jsonRequest(method, path, body)
	if bearer != "" {
		req.Header.Set("authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	srv.instrument(srv.dispatch()).ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	if body == nil {
		return httptest.NewRequest(method, path, nil)
	}
	return httptest.NewRequest(method, path, jsonBody(body))
}

func jsonBody(v interface{}) io.Reader {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return bytes.NewReader(data)
}

func decodeJSON(t *testing.T, body *bytes.Buffer, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(body).Decode(v))
}
