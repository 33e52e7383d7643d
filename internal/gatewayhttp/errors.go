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

// Package gatewayhttp is the user-facing and admin HTTP surface: the
// OpenAI-shaped chat API, the raw /exa.* Platform passthrough, and the
// admin/SOC endpoints.
package gatewayhttp

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational-labs/aegisgate/internal/quota"
)

func humanDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	mins := int(d.Round(time.Minute) / time.Minute)
	if mins < 1 {
		return "<1min"
	}
	return "~" + strconv.Itoa(mins) + "min"
}

// errorBody is the JSON shape every user-facing error response carries.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Credits *creditsErrorExtra `json:"credits,omitempty"`
}

type creditsErrorExtra struct {
	Available      float64 `json:"available"`
	NextRecoveryIn string  `json:"nextRecoveryIn,omitempty"`
}

// statusForError maps the error taxonomy onto an HTTP status. trace's
// error kinds already encode most of the taxonomy; the
// few gateway-specific kinds (credits_exhausted, payload_too_large, ...)
// are distinguished by concrete type or sentinel below.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case isCreditsExhausted(err):
		return http.StatusTooManyRequests
	case trace.IsAccessDenied(err):
		return http.StatusUnauthorized
	case trace.IsLimitExceeded(err):
		return http.StatusTooManyRequests
	case trace.IsNotFound(err):
		return http.StatusNotFound
	case trace.IsBadParameter(err):
		return http.StatusBadRequest
	case trace.IsConnectionProblem(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isCreditsExhausted(err error) bool {
	_, ok := trace.Unwrap(err).(*quota.CreditsExhaustedError)
	if ok {
		return true
	}
	_, ok = err.(*quota.CreditsExhaustedError)
	return ok
}

// writeError renders err as the standard error JSON body.
func writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	body := errorBody{}
	body.Error.Message = truncateUpstreamMessage(trace.UserMessage(err))

	if ce, ok := asCreditsExhausted(err); ok {
		body.Credits = &creditsErrorExtra{
			Available:      ce.Available,
			NextRecoveryIn: humanDuration(ce.NextRecoveryIn),
		}
	}

	writeJSON(w, status, body)
}

func asCreditsExhausted(err error) (*quota.CreditsExhaustedError, bool) {
	if ce, ok := err.(*quota.CreditsExhaustedError); ok {
		return ce, true
	}
	if ce, ok := trace.Unwrap(err).(*quota.CreditsExhaustedError); ok {
		return ce, true
	}
	return nil, false
}

// truncateUpstreamMessage bounds any upstream-sourced text to 200 chars.
func truncateUpstreamMessage(msg string) string {
	const maxLen = 200
	if len(msg) <= maxLen {
		return msg
	}
	return strings.TrimSpace(msg[:maxLen]) + "..."
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
