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

	"github.com/julienschmidt/httprouter"

	"github.com/gravitational-labs/aegisgate/internal/account"
)

// accountStatusView is the admin-facing account shape: the API key always
// masked.
type accountStatusView struct {
	ID               string `json:"id"`
	BaseURL          string `json:"baseUrl"`
	APIKey           string `json:"apiKey"`
	Model            string `json:"model,omitempty"`
	Enabled          bool   `json:"enabled"`
	DisabledReason   string `json:"disabledReason,omitempty"`
	ConsecutiveFails int    `json:"consecutiveFailures"`
	UsedTokens       int64  `json:"usedTokens"`
	DailyLimit       int64  `json:"dailyLimit,omitempty"`
	RequestsServed   int64  `json:"requestsServed"`
}

func toAccountStatusView(a account.Account) accountStatusView {
	masked := a.Masked()
	return accountStatusView{
		ID: a.ID, BaseURL: a.BaseURL, APIKey: masked.APIKey, Model: a.Model,
		Enabled: a.Enabled, DisabledReason: string(a.DisabledReason),
		ConsecutiveFails: a.ConsecutiveFails, UsedTokens: a.UsedTokens,
		DailyLimit: a.DailyLimit, RequestsServed: a.RequestsServed,
	}
}

// handleAdminAccountsStatus lists every account in the local upstream pool,
// API keys masked.
func (s *Server) handleAdminAccountsStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.deps.Accounts == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": []accountStatusView{}})
		return
	}
	all := s.deps.Accounts.List()
	views := make([]accountStatusView, 0, len(all))
	for _, acc := range all {
		views = append(views, toAccountStatusView(acc))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": views})
}

// handleAdminAccountsReload re-reads ACCOUNT_POOL_FILE, preserving
// in-memory runtime counters the same way session reload does.
func (s *Server) handleAdminAccountsReload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.deps.Accounts == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"reloaded": false})
		return
	}
	if err := s.deps.Accounts.Reload(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reloaded": true})
}

// handleAdminAccountsHealthCheck runs an immediate probe sweep across the
// whole account pool, independent of the background health-monitor's own
// AccountHealthMonitorInterval schedule.
func (s *Server) handleAdminAccountsHealthCheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.deps.Accounts == nil || s.deps.AccountChecker == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"disabled": []string{}, "reenabled": []string{}})
		return
	}
	disabled, reenabled := s.deps.Accounts.CheckAll(r.Context(), s.deps.AccountChecker,
		s.deps.AccountFailureThreshold, s.deps.AccountRecoveryThreshold)
	writeJSON(w, http.StatusOK, map[string]interface{}{"disabled": disabled, "reenabled": reenabled})
}
