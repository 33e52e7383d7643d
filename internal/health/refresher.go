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

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gravitational/trace"
)

// FirebaseRefresher exchanges a Platform session's refresh token for a new
// JWT via Firebase's "secure token" endpoint: the Platform's own sessions
// are themselves Firebase-authenticated, so this gateway refreshes them the
// same way.
type FirebaseRefresher struct {
	APIKey     string
	RefreshURL string // defaults to Google's securetoken endpoint when empty
	client     *http.Client
}

// NewFirebaseRefresher builds a refresher bounded by timeout per call.
func NewFirebaseRefresher(apiKey, refreshURL string, timeout time.Duration) *FirebaseRefresher {
	if refreshURL == "" {
		refreshURL = "https://securetoken.googleapis.com/v1/token"
	}
	return &FirebaseRefresher{
		APIKey:     apiKey,
		RefreshURL: refreshURL,
		client:     &http.Client{Timeout: timeout},
	}
}

type firebaseRefreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
}

// Refresh implements TokenRefresher.
func (f *FirebaseRefresher) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	if f.APIKey == "" {
		return "", "", trace.BadParameter("no Firebase API key configured")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	endpoint := f.RefreshURL + "?key=" + url.QueryEscape(f.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", trace.Wrap(err)
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", trace.ConnectionProblem(err, "refresh request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", trace.ConnectionProblem(nil, "refresh endpoint returned status %d", resp.StatusCode)
	}

	var parsed firebaseRefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", "", trace.Wrap(err, "decoding refresh response")
	}
	return parsed.IDToken, parsed.RefreshToken, nil
}
