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

	"github.com/gravitational-labs/aegisgate/internal/quota"
)

func TestHandleModelsListsCatalog(t *testing.T) {
	srv, _, _, _ := testServer(t)
	rec := doRequest(srv, http.MethodGet, "/v1/models", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Object string        `json:"object"`
		Data   []modelEntry  `json:"data"`
	}
	decodeJSON(t, rec.Body, &body)
	require.Equal(t, "list", body.Object)
	require.Equal(t, len(modelCatalog), len(body.Data))
}

func TestHandleCreditsRequiresBearer(t *testing.T) {
	srv, _, _, _ := testServer(t)
	rec := doRequest(srv, http.MethodGet, "/v1/credits", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleCreditsReturnsAuthenticatedUser(t *testing.T) {
	srv, _, users, _ := testServer(t)
	require.NoError(t, users.Add(&quota.User{
		ID: "u1", BearerToken: "tok-1", DisplayName: "Ada", Enabled: true,
		CreditLimit: 100, CreditRecoveryAmount: 10, CreditRecoveryIntervalMs: 3600000,
	}))

	rec := doRequest(srv, http.MethodGet, "/v1/credits", nil, "tok-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body creditsResponse
	decodeJSON(t, rec.Body, &body)
	require.Equal(t, "u1", body.UserID)
	require.Equal(t, "Ada", body.Name)
	require.Equal(t, 100.0, body.Credits.Limit)
}
