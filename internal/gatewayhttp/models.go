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

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
)

// modelCatalog lists every model this gateway will report and accept,
// mirroring the cost table quota.CostOf understands.
var modelCatalog = []string{
	"claude-opus-4-1", "claude-opus-4", "claude-sonnet-4-5", "claude-sonnet-4",
	"claude-3-5-sonnet-20241022", "gpt-5-high", "gpt-5-low", "gpt-5",
	"gpt-4o-mini", "gpt-4o", "gpt-4", "gemini-2.5-pro", "gemini-2.5-flash",
	"deepseek-reasoner", "deepseek-chat", "kimi-k2", "qwen3-coder", "swe-1",
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
	Created int64  `json:"created"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	data := make([]modelEntry, 0, len(modelCatalog))
	created := s.deps.Clock.Now().Unix()
	for _, id := range modelCatalog {
		data = append(data, modelEntry{ID: id, Object: "model", OwnedBy: "aegisgate", Created: created})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"data":   data,
	})
}

type creditsResponse struct {
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	Credits struct {
		Available     float64 `json:"available"`
		Limit         float64 `json:"limit"`
		Used          float64 `json:"used"`
		UsagePercent  float64 `json:"usagePercent"`
	} `json:"credits"`
	Recovery struct {
		Amount         float64 `json:"amount"`
		IntervalHours  float64 `json:"intervalHours"`
		LastRecoveryAt string `json:"lastRecoveryAt,omitempty"`
	} `json:"recovery"`
	Stats struct {
		RequestCount int64 `json:"requestCount"`
	} `json:"stats"`
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, trace.AccessDenied("unauthorized"))
		return
	}
	u, ok := s.deps.Users.Authenticate(token)
	if !ok {
		writeError(w, trace.AccessDenied("unauthorized"))
		return
	}

	resp := creditsResponse{UserID: u.ID, Name: u.DisplayName}
	resp.Credits.Available = u.Available()
	resp.Credits.Limit = u.CreditLimit
	resp.Credits.Used = u.UsedCredits
	if u.CreditLimit > 0 {
		resp.Credits.UsagePercent = 100 * u.UsedCredits / u.CreditLimit
	}
	resp.Recovery.Amount = u.CreditRecoveryAmount
	resp.Recovery.IntervalHours = float64(u.CreditRecoveryIntervalMs) / 3_600_000
	if !u.LastRecoveryAt.IsZero() {
		resp.Recovery.LastRecoveryAt = u.LastRecoveryAt.Format(httpTimeFormat)
	}
	resp.Stats.RequestCount = u.RequestCount

	writeJSON(w, http.StatusOK, resp)
}

const httpTimeFormat = "2006-01-02T15:04:05Z07:00"
