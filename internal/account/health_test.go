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

package account

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedChecker returns errs[callCount] in sequence, defaulting to nil
// once the script is exhausted.
type scriptedChecker struct {
	errs  []error
	calls int
}

func (c *scriptedChecker) Check(ctx context.Context, acc Account) error {
	var err error
	if c.calls < len(c.errs) {
		err = c.errs[c.calls]
	}
	c.calls++
	return err
}

var errProbe = simpleError("probe failed")

type simpleError string

func (e simpleError) Error() string { return string(e) }

func TestCheckAllDisablesAfterThresholdFailures(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Add(&Account{ID: "a1", Enabled: true}))
	checker := &scriptedChecker{errs: []error{errProbe, errProbe, errProbe}}

	store.CheckAll(context.Background(), checker, 3, 2)
	store.CheckAll(context.Background(), checker, 3, 2)
	got, _ := store.Get("a1")
	require.True(t, got.Enabled, "should still be enabled before the third failure")

	disabled, _ := store.CheckAll(context.Background(), checker, 3, 2)
	require.Equal(t, []string{"a1"}, disabled)
	got, _ = store.Get("a1")
	require.False(t, got.Enabled)
	require.Equal(t, ReasonHealthCheckFailed, got.DisabledReason)
}

func TestCheckAllReenablesAfterThresholdSuccesses(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Add(&Account{ID: "a1", Enabled: true}))
	checker := &scriptedChecker{errs: []error{errProbe, errProbe, errProbe}}

	for i := 0; i < 3; i++ {
		store.CheckAll(context.Background(), checker, 3, 2)
	}
	got, _ := store.Get("a1")
	require.False(t, got.Enabled)

	store.CheckAll(context.Background(), checker, 3, 2)
	_, reenabled := store.CheckAll(context.Background(), checker, 3, 2)
	require.Equal(t, []string{"a1"}, reenabled)
	got, _ = store.Get("a1")
	require.True(t, got.Enabled)
}

func TestCheckAllSkipsAccountsDisabledInConfigOrByDailyLimit(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Add(&Account{ID: "a1", DisabledReason: ReasonDisabledInConfig}))
	require.NoError(t, store.Add(&Account{ID: "a2", DisabledReason: ReasonDailyLimitReached}))
	checker := &scriptedChecker{}

	store.CheckAll(context.Background(), checker, 3, 2)
	require.Equal(t, 0, checker.calls)
}

func TestHTTPCheckerSendsBearerAndTreatsNonOKAsUnhealthy(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewHTTPChecker(2 * time.Second)
	err := checker.Check(context.Background(), Account{BaseURL: srv.URL, APIKey: "secret-key"})
	require.NoError(t, err)
	require.Equal(t, "/models", gotPath)
	require.Equal(t, "Bearer secret-key", gotAuth)

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv2.Close()
	err = checker.Check(context.Background(), Account{BaseURL: srv2.URL})
	require.Error(t, err)
}
