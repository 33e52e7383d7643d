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

package affinity

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*Router, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	r, err := NewRouter(Config{TTL: 30 * time.Minute, MaxUsersPerSess: 4, Clock: clock})
	require.NoError(t, err)
	return r, clock
}

func TestSelectStableWithinTTL(t *testing.T) {
	r, _ := newTestRouter(t)
	candidates := []Candidate{{ID: "s1", Enabled: true, CreditsRemaining: 10}}

	first, err := r.Select("1.2.3.4", candidates, "")
	require.NoError(t, err)

	got, ok := r.Get("1.2.3.4")
	require.True(t, ok)
	require.Equal(t, first, got)
}

func TestSelectFairnessAcrossTwelveClients(t *testing.T) {
	r, _ := newTestRouter(t)
	candidates := []Candidate{
		{ID: "s1", Enabled: true, CreditsRemaining: 100},
		{ID: "s2", Enabled: true, CreditsRemaining: 100},
		{ID: "s3", Enabled: true, CreditsRemaining: 100},
	}

	counts := map[string]int{}
	for i := 0; i < 12; i++ {
		key := fmt.Sprintf("client-%d", i)
		sessionID, err := r.Select(key, candidates, "")
		require.NoError(t, err)
		counts[sessionID]++
	}

	for _, id := range []string{"s1", "s2", "s3"} {
		require.Equal(t, 4, counts[id], "each session should receive exactly MaxUsersPerSess bindings")
	}
}

func TestSelectOverflowsWhenAllSessionsAtCapacity(t *testing.T) {
	r, _ := newTestRouter(t)
	candidates := []Candidate{{ID: "s1", Enabled: true, CreditsRemaining: 100}}

	for i := 0; i < 4; i++ {
		_, err := r.Select(fmt.Sprintf("client-%d", i), candidates, "")
		require.NoError(t, err)
	}

	// Thirteenth-equivalent client: capacity filter excludes s1, but the
	// most-credited fallback still returns it rather than 503ing.
	sessionID, err := r.Select("client-overflow", candidates, "")
	require.NoError(t, err)
	require.Equal(t, "s1", sessionID)
}

func TestEvictSessionDropsAllItsBindings(t *testing.T) {
	r, _ := newTestRouter(t)
	candidates := []Candidate{
		{ID: "s1", Enabled: true, CreditsRemaining: 100},
		{ID: "s2", Enabled: true, CreditsRemaining: 1},
	}

	_, err := r.Select("client-a", []Candidate{candidates[0]}, "")
	require.NoError(t, err)

	r.EvictSession("s1")
	_, ok := r.Get("client-a")
	require.False(t, ok)

	// Next request from the same client rebinds to a different session.
	sessionID, err := r.Select("client-a", []Candidate{candidates[1]}, "")
	require.NoError(t, err)
	require.Equal(t, "s2", sessionID)
}

func TestSelectNoEligibleSessionReturnsError(t *testing.T) {
	r, _ := newTestRouter(t)
	_, err := r.Select("client-a", nil, "")
	require.Error(t, err)
}
