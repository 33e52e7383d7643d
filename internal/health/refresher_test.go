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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFirebaseRefresherSendsFormAndParsesTokens(t *testing.T) {
	var gotPath, gotQuery, gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotContentType = r.Header.Get("content-type")
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		gotBody = string(body)
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(`{"id_token":"new-jwt","refresh_token":"new-refresh"}`))
	}))
	defer srv.Close()

	refresher := NewFirebaseRefresher("test-api-key", srv.URL+"/v1/token", 2*time.Second)
	jwt, refresh, err := refresher.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	require.Equal(t, "new-jwt", jwt)
	require.Equal(t, "new-refresh", refresh)

	require.Equal(t, "/v1/token", gotPath)
	require.Equal(t, "key=test-api-key", gotQuery)
	require.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	require.Contains(t, gotBody, "grant_type=refresh_token")
	require.Contains(t, gotBody, "refresh_token=old-refresh")
}

func TestFirebaseRefresherRequiresAPIKey(t *testing.T) {
	refresher := NewFirebaseRefresher("", "", time.Second)
	_, _, err := refresher.Refresh(context.Background(), "tok")
	require.Error(t, err)
}

func TestFirebaseRefresherWrapsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	refresher := NewFirebaseRefresher("key", srv.URL, time.Second)
	_, _, err := refresher.Refresh(context.Background(), "tok")
	require.Error(t, err)
}

func TestFirebaseRefresherDefaultsRefreshURL(t *testing.T) {
	refresher := NewFirebaseRefresher("key", "", time.Second)
	require.Equal(t, "https://securetoken.googleapis.com/v1/token", refresher.RefreshURL)
}
