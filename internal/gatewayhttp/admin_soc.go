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
	"strconv"

	"github.com/julienschmidt/httprouter"
)

// handleAdminBandwidth reports the smoothness snapshot.
func (s *Server) handleAdminBandwidth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.deps.Bandwidth.Snapshot())
}

// handleSOCEvents returns the most recent raw EventRecords, newest last, as
// the /soc/events surface.
func (s *Server) handleSOCEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": s.deps.Events.Recent(limit),
	})
}

// handleSOCAlerts derives alerts over the last 10 minutes of event activity
// plus the current set of users within their low-credit threshold.
func (s *Server) handleSOCAlerts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var nearing []string
	for _, u := range s.deps.Users.List() {
		if u.CreditLimit <= 0 {
			continue
		}
		if u.Available()/u.CreditLimit <= 0.05 {
			nearing = append(nearing, u.DisplayName)
		}
	}
	alerts := s.deps.Events.DeriveAlerts(s.deps.Clock.Now(), nearing)
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}
