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

// Package affinity keeps a client pinned to the same session for a TTL
// while balancing load and draining exhausted sessions.
package affinity

import (
	"sort"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/gravitational/ttlmap"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Candidate is the subset of session.Session the router needs to make a
// selection decision, kept here rather than importing the session package
// directly to avoid a dependency cycle with the gateway wiring layer.
type Candidate struct {
	ID               string
	Enabled          bool
	CreditsRemaining float64
}

// Router implements the client -> session binding. TTL-extend-on-hit and
// TTL-expiry mechanics are delegated to ttlmap's bounded expiring map;
// boundCount and eviction-by-session additionally require enumerating all
// bindings for a given session id, which a pure TTL map does not expose,
// so a small reverse index (sessionID -> set of client keys) is
// maintained alongside it under the same lock.
type Router struct {
	mu    sync.Mutex
	clock clockwork.Clock
	log   logrus.FieldLogger

	ttl        time.Duration
	maxPerSess int
	bindings   *ttlmap.TtlMap
	bySession  map[string]map[string]struct{}
}

// Config configures a Router.
type Config struct {
	TTL             time.Duration
	MaxUsersPerSess int
	Clock           clockwork.Clock
	Log             logrus.FieldLogger
	Capacity        int // ttlmap backing capacity, 0 uses a large default
}

// NewRouter constructs a Router per Config, applying defaults
// for zero fields.
func NewRouter(cfg Config) (*Router, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxUsersPerSess <= 0 {
		cfg.MaxUsersPerSess = 4
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Log == nil {
		cfg.Log = logrus.WithField(trace.Component, "affinity")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100_000
	}

	m, err := ttlmap.New(cfg.Capacity)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &Router{
		clock:      cfg.Clock,
		log:        cfg.Log,
		ttl:        cfg.TTL,
		maxPerSess: cfg.MaxUsersPerSess,
		bindings:   m,
		bySession:  map[string]map[string]struct{}{},
	}, nil
}

// Get returns the sessionId bound to clientKey if the binding is still
// valid.
func (r *Router) Get(clientKey string) (sessionID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, found := r.bindings.Get(clientKey)
	if !found {
		return "", false
	}
	return v.(string), true
}

// boundCountLocked returns the number of live bindings pointing at
// sessionID. Caller must hold r.mu.
func (r *Router) boundCountLocked(sessionID string) int {
	return len(r.bySession[sessionID])
}

// Select implements the binding-selection algorithm on miss or eviction:
// filter to enabled sessions with credit, exclude those at capacity, sort
// by (boundCount asc, creditsRemaining desc), and bind to the first. Falls
// back to the most-credited enabled session, then to least-used overall.
func (r *Router) Select(clientKey string, candidates []Candidate, leastUsedFallback string) (sessionID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type scored struct {
		Candidate
		bound int
	}
	var eligible []scored
	for _, c := range candidates {
		if !c.Enabled || c.CreditsRemaining <= 0 {
			continue
		}
		bound := r.boundCountLocked(c.ID)
		if bound >= r.maxPerSess {
			continue
		}
		eligible = append(eligible, scored{c, bound})
	}

	if len(eligible) > 0 {
		sort.Slice(eligible, func(i, j int) bool {
			if eligible[i].bound != eligible[j].bound {
				return eligible[i].bound < eligible[j].bound
			}
			return eligible[i].CreditsRemaining > eligible[j].CreditsRemaining
		})
		sessionID = eligible[0].ID
	} else {
		// Fall back to the enabled session with the most remaining
		// credits, ignoring the per-session cap.
		var best *Candidate
		for i := range candidates {
			c := &candidates[i]
			if !c.Enabled || c.CreditsRemaining <= 0 {
				continue
			}
			if best == nil || c.CreditsRemaining > best.CreditsRemaining {
				best = c
			}
		}
		if best != nil {
			sessionID = best.ID
			r.log.WithField("session", sessionID).Warn("affinity: all sessions at capacity, overflowing to most-credited")
		} else if leastUsedFallback != "" {
			sessionID = leastUsedFallback
			r.log.WithField("session", sessionID).Warn("affinity: no session with credits, falling back to least-used")
		} else {
			return "", trace.ConnectionProblem(nil, "no_available_account")
		}
	}

	if err := r.bindLocked(clientKey, sessionID); err != nil {
		return "", trace.Wrap(err)
	}
	return sessionID, nil
}

func (r *Router) bindLocked(clientKey, sessionID string) error {
	if err := r.bindings.Set(clientKey, sessionID, r.ttl); err != nil {
		return trace.Wrap(err)
	}
	if r.bySession[sessionID] == nil {
		r.bySession[sessionID] = map[string]struct{}{}
	}
	r.bySession[sessionID][clientKey] = struct{}{}
	return nil
}

// Touch renews a binding's TTL on a cache hit, keeping bySession in sync.
func (r *Router) Touch(clientKey, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bindLocked(clientKey, sessionID)
}

// EvictSession drops every binding pointing at sessionID, so subsequent
// requests rebind.
func (r *Router) EvictSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for clientKey := range r.bySession[sessionID] {
		r.bindings.Remove(clientKey)
	}
	delete(r.bySession, sessionID)
}

// Sweep removes bindings whose client key has fallen out of the
// underlying ttlmap (already TTL-expired) from the bySession index, so the
// index doesn't grow unbounded between touches. Runs on
// AffinitySweepInterval.
func (r *Router) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sessionID, keys := range r.bySession {
		for clientKey := range keys {
			if _, found := r.bindings.Get(clientKey); !found {
				delete(keys, clientKey)
			}
		}
		if len(keys) == 0 {
			delete(r.bySession, sessionID)
		}
	}
}
