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
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational-labs/aegisgate/internal/account"
)

func TestHandleAdminAccountsStatusMasksAPIKey(t *testing.T) {
	srv, _, _, clock := testServer(t)
	accounts := account.NewStore("", clock)
	require.NoError(t, accounts.Add(&account.Account{ID: "a1", BaseURL: "https://u.example", APIKey: "sk-real-key", Enabled: true}))
	srv.deps.Accounts = accounts

	rec := doRequest(srv, http.MethodGet, "/admin/accounts/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Accounts []accountStatusView `json:"accounts"`
	}
	decodeJSON(t, rec.Body, &body)
	require.Len(t, body.Accounts, 1)
	require.NotEqual(t, "sk-real-key", body.Accounts[0].APIKey)
}

func TestHandleAdminAccountsStatusWithNoPoolConfigured(t *testing.T) {
	srv, _, _, _ := testServer(t)

	rec := doRequest(srv, http.MethodGet, "/admin/accounts/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Accounts []accountStatusView `json:"accounts"`
	}
	decodeJSON(t, rec.Body, &body)
	require.Empty(t, body.Accounts)
}

func TestHandleAdminAccountsHealthCheckDisablesAfterFailures(t *testing.T) {
	srv, _, _, clock := testServer(t)
	accounts := account.NewStore("", clock)
	require.NoError(t, accounts.Add(&account.Account{ID: "a1", Enabled: true}))
	srv.deps.Accounts = accounts
	srv.deps.AccountChecker = scriptedAdminChecker{err: errProbeAccount}
	srv.deps.AccountFailureThreshold = 1

	rec := doRequest(srv, http.MethodPost, "/admin/accounts/health-check", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Disabled  []string `json:"disabled"`
		Reenabled []string `json:"reenabled"`
	}
	decodeJSON(t, rec.Body, &body)
	require.Equal(t, []string{"a1"}, body.Disabled)

	got, ok := accounts.Get("a1")
	require.True(t, ok)
	require.False(t, got.Enabled)
}

func TestHandleAdminAccountsReloadWithNoPoolConfigured(t *testing.T) {
	srv, _, _, _ := testServer(t)
	rec := doRequest(srv, http.MethodPost, "/admin/accounts/reload", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeJSON(t, rec.Body, &body)
	require.Equal(t, false, body["reloaded"])
}

type scriptedAdminChecker struct{ err error }

func (c scriptedAdminChecker) Check(ctx context.Context, acc account.Account) error { return c.err }

var errProbeAccount = simpleAdminError("probe failed")

type simpleAdminError string

func (e simpleAdminError) Error() string { return string(e) }
