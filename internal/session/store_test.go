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

package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	path := filepath.Join(t.TempDir(), "sessions.json")
	return NewStore(path, clock), clock
}

func TestSaveLoadReloadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Add(&Session{ID: "s1", Platform: "windsurf", Enabled: true, Creds: Credentials{APIKey: "k1"}, CreditsRemaining: 100}))
	require.NoError(t, store.Add(&Session{ID: "s2", Platform: "windsurf", Enabled: true, Creds: Credentials{APIKey: "k2"}, CreditsRemaining: 50}))
	require.NoError(t, store.Save())

	reloaded := NewStore(store.path, clockwork.NewFakeClock())
	require.NoError(t, reloaded.Load())

	list := reloaded.List()
	require.Len(t, list, 2)
	require.Equal(t, "s1", list[0].ID)
	require.Equal(t, float64(100), list[0].CreditsRemaining)
}

func TestReloadPreservesRuntimeCounters(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Add(&Session{ID: "s1", Platform: "windsurf", Enabled: true, CreditsRemaining: 100}))
	require.NoError(t, store.Save())

	require.NoError(t, store.RecordUsage("s1", 42))
	_, _, err := store.DeductCredits("s1", 10)
	require.NoError(t, err)

	require.NoError(t, store.Reload())

	got, ok := store.Get("s1")
	require.True(t, ok)
	require.Equal(t, int64(42), got.UsedTokens)
	require.Equal(t, float64(90), got.CreditsRemaining)
}

func TestPickLeastUsedEnabledSession(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Add(&Session{ID: "s1", Platform: "p", Enabled: true, UsedTokens: 100}))
	require.NoError(t, store.Add(&Session{ID: "s2", Platform: "p", Enabled: true, UsedTokens: 10}))
	require.NoError(t, store.Add(&Session{ID: "s3", Platform: "p", Enabled: false, UsedTokens: 0}))

	picked, ok := store.Pick("p")
	require.True(t, ok)
	require.Equal(t, "s2", picked.ID)
}

func TestRecordUsageDisablesOnDailyLimit(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Add(&Session{ID: "s1", Platform: "p", Enabled: true, DailyLimit: 100}))

	require.NoError(t, store.RecordUsage("s1", 60))
	got, _ := store.Get("s1")
	require.True(t, got.Enabled)

	require.NoError(t, store.RecordUsage("s1", 40))
	got, _ = store.Get("s1")
	require.False(t, got.Enabled)
	require.Equal(t, ReasonQuotaExhausted, got.DisabledReason)
}

func TestDeductCreditsNeverGoesNegativeAndReportsDepletion(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Add(&Session{ID: "s1", Platform: "p", Enabled: true, CreditsRemaining: 1}))

	remaining, depleted, err := store.DeductCredits("s1", 1)
	require.NoError(t, err)
	require.Equal(t, float64(0), remaining)
	require.True(t, depleted)

	remaining, depleted, err = store.DeductCredits("s1", 5)
	require.NoError(t, err)
	require.Equal(t, float64(0), remaining)
	require.False(t, depleted, "already-zero session should not re-trigger depletion eviction")
}

func TestExpireStaleDisablesWithSessionExpiredReason(t *testing.T) {
	store, clock := newTestStore(t)
	require.NoError(t, store.Add(&Session{ID: "s1", Platform: "p", Enabled: true, ExpiresAt: clock.Now().Add(-time.Minute)}))

	expired := store.ExpireStale(clock.Now())
	require.Equal(t, []string{"s1"}, expired)

	got, _ := store.Get("s1")
	require.False(t, got.Enabled)
	require.Equal(t, ReasonSessionExpired, got.DisabledReason)
}

func TestAddRejectsDuplicateID(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Add(&Session{ID: "s1"}))
	err := store.Add(&Session{ID: "s1"})
	require.Error(t, err)
}
