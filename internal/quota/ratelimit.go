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

package quota

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// window is 60 seconds, the fixed sliding-window size for MAX_RPM_PER_TOKEN.
const window = 60 * time.Second

// RateLimiter enforces a sliding 60s per-bearer-token request budget. It
// stores a slice of wall-clock timestamps per token rather than a
// token-bucket so the boundary behavior ("the cap-th request succeeds,
// the cap+1-th is rejected") is exact, which golang.org/x/time/rate's
// refill model does not guarantee.
type RateLimiter struct {
	mu    sync.Mutex
	clock clockwork.Clock
	limit int

	timestamps map[string][]time.Time
}

// NewRateLimiter constructs a limiter allowing up to limit requests per
// rolling 60s window per token.
func NewRateLimiter(limit int, clock clockwork.Clock) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{
		clock:      clock,
		limit:      limit,
		timestamps: map[string][]time.Time{},
	}
}

// Allow records one request attempt for token at the current time and
// reports whether it falls within the window's budget. Rejected attempts
// are not recorded, so a client cannot consume its own budget by spamming
// once it is already over the cap.
func (r *RateLimiter) Allow(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	cutoff := now.Add(-window)

	ts := r.timestamps[token]
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= r.limit {
		r.timestamps[token] = kept
		return false
	}

	r.timestamps[token] = append(kept, now)
	return true
}
