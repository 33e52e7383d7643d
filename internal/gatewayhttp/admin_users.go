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
	"encoding/json"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational-labs/aegisgate/internal/quota"
	"github.com/gravitational-labs/aegisgate/internal/session"
)

// userStatusView is the admin-facing user shape: bearer tokens masked the
// same way session credentials are.
type userStatusView struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Token                string  `json:"token"`
	Enabled              bool    `json:"enabled"`
	CreditLimit          float64 `json:"creditLimit"`
	CreditsAvailable     float64 `json:"creditsAvailable"`
	CreditRecoveryAmount float64 `json:"creditRecoveryAmount"`
	RequestCount         int64   `json:"requestCount"`
}

func toUserStatusView(u quota.User) userStatusView {
	return userStatusView{
		ID: u.ID, Name: u.DisplayName, Token: session.Credentials{APIKey: u.BearerToken}.Masked().APIKey,
		Enabled: u.Enabled, CreditLimit: u.CreditLimit, CreditsAvailable: u.Available(),
		CreditRecoveryAmount: u.CreditRecoveryAmount, RequestCount: u.RequestCount,
	}
}

// handleAdminUsersStatus lists every user, bearer token masked.
func (s *Server) handleAdminUsersStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	all := s.deps.Users.List()
	views := make([]userStatusView, 0, len(all))
	for _, u := range all {
		views = append(views, toUserStatusView(u))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": views})
}

type createUserRequest struct {
	ID                       string  `json:"id"`
	Name                     string  `json:"name"`
	Token                    string  `json:"token"`
	CreditLimit              float64 `json:"creditLimit"`
	CreditRecoveryAmount     float64 `json:"creditRecoveryAmount"`
	CreditRecoveryIntervalMs int64   `json:"creditRecoveryIntervalMs"`
}

// handleAdminUsersCreate provisions a new bearer-token user.
func (s *Server) handleAdminUsersCreate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, trace.BadParameter("invalid JSON body: %v", err))
		return
	}
	if req.ID == "" || req.Token == "" {
		writeError(w, trace.BadParameter("id and token are required"))
		return
	}
	u := &quota.User{
		ID: req.ID, BearerToken: req.Token, DisplayName: req.Name, Enabled: true,
		CreditLimit:              req.CreditLimit,
		CreditRecoveryAmount:     req.CreditRecoveryAmount,
		CreditRecoveryIntervalMs: req.CreditRecoveryIntervalMs,
	}
	if err := s.deps.Users.Add(u); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Users.Save(); err != nil {
		s.deps.Log.WithError(err).Warn("admin: failed to persist users after create")
	}
	writeJSON(w, http.StatusOK, toUserStatusView(*u))
}

type updateUserRequest struct {
	ID                       string   `json:"id"`
	Name                     *string  `json:"name"`
	Enabled                  *bool    `json:"enabled"`
	CreditLimit              *float64 `json:"creditLimit"`
	CreditRecoveryAmount     *float64 `json:"creditRecoveryAmount"`
	CreditRecoveryIntervalMs *int64   `json:"creditRecoveryIntervalMs"`
}

// handleAdminUsersUpdate patches mutable fields on an existing user.
func (s *Server) handleAdminUsersUpdate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, trace.BadParameter("invalid JSON body: %v", err))
		return
	}
	err := s.deps.Users.Update(req.ID, func(u *quota.User) {
		if req.Name != nil {
			u.DisplayName = *req.Name
		}
		if req.Enabled != nil {
			u.Enabled = *req.Enabled
		}
		if req.CreditLimit != nil {
			u.CreditLimit = *req.CreditLimit
		}
		if req.CreditRecoveryAmount != nil {
			u.CreditRecoveryAmount = *req.CreditRecoveryAmount
		}
		if req.CreditRecoveryIntervalMs != nil {
			u.CreditRecoveryIntervalMs = *req.CreditRecoveryIntervalMs
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Users.Save(); err != nil {
		s.deps.Log.WithError(err).Warn("admin: failed to persist users after update")
	}
	got, _ := s.deps.Users.Get(req.ID)
	writeJSON(w, http.StatusOK, toUserStatusView(got))
}

type userIDRequest struct {
	ID string `json:"id"`
}

// handleAdminUsersDelete removes a user entirely.
func (s *Server) handleAdminUsersDelete(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req userIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, trace.BadParameter("invalid JSON body: %v", err))
		return
	}
	if err := s.deps.Users.Remove(req.ID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Users.Save(); err != nil {
		s.deps.Log.WithError(err).Warn("admin: failed to persist users after delete")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": req.ID})
}

// handleAdminUsersResetCredits zeroes one user's UsedCredits immediately,
// independent of the scheduled recovery/daily-reset sweep.
func (s *Server) handleAdminUsersResetCredits(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req userIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, trace.BadParameter("invalid JSON body: %v", err))
		return
	}
	err := s.deps.Users.Update(req.ID, func(u *quota.User) {
		u.UsedCredits = 0
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Users.Save(); err != nil {
		s.deps.Log.WithError(err).Warn("admin: failed to persist users after credit reset")
	}
	got, _ := s.deps.Users.Get(req.ID)
	writeJSON(w, http.StatusOK, toUserStatusView(got))
}

// handleAdminUsersReload re-reads config/users.json from disk.
func (s *Server) handleAdminUsersReload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := s.deps.Users.Load(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reloaded": true})
}
