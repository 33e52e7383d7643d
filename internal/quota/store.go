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
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational-labs/aegisgate/internal/session"
)

type persistedUsersDoc struct {
	Users []persistedUser `json:"users"`
}

type persistedUser struct {
	ID                       string    `json:"id"`
	Token                    string    `json:"token"`
	Name                     string    `json:"name"`
	CreditLimit              float64   `json:"creditLimit"`
	CreditRecoveryAmount     float64   `json:"creditRecoveryAmount"`
	CreditRecoveryIntervalMs int64     `json:"creditRecoveryIntervalMs"`
	Enabled                  bool      `json:"enabled"`
	CreatedAt                time.Time `json:"createdAt,omitempty"`
	Note                     string    `json:"note,omitempty"`
	UsedCredits              float64   `json:"usedCredits,omitempty"`
	TotalUsed                float64   `json:"totalUsed,omitempty"`
	RequestCount             int64     `json:"requestCount,omitempty"`
	LastRecoveryAt           time.Time `json:"lastRecoveryAt,omitempty"`
}

// UserStore is the mutex-serialised, file-backed map of bearer token ->
// User.
type UserStore struct {
	mu    sync.Mutex
	clock clockwork.Clock
	path  string

	byID    map[string]*User
	byToken map[string]*User
}

// NewUserStore constructs an empty store backed by path
// (config/users.json by default, overridable via USERS_FILE).
func NewUserStore(path string, clock clockwork.Clock) *UserStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &UserStore{
		clock:   clock,
		path:    path,
		byID:    map[string]*User{},
		byToken: map[string]*User{},
	}
}

// Load reads config/users.json from disk, replacing in-memory state.
func (s *UserStore) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return trace.Wrap(err)
	}
	var doc persistedUsersDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return trace.Wrap(err, "parsing %s", s.path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = map[string]*User{}
	s.byToken = map[string]*User{}
	for _, pu := range doc.Users {
		u := &User{
			ID:                       pu.ID,
			BearerToken:              pu.Token,
			DisplayName:              pu.Name,
			CreditLimit:              pu.CreditLimit,
			CreditRecoveryAmount:     pu.CreditRecoveryAmount,
			CreditRecoveryIntervalMs: pu.CreditRecoveryIntervalMs,
			Enabled:                  pu.Enabled,
			UsedCredits:              pu.UsedCredits,
			TotalUsed:                pu.TotalUsed,
			RequestCount:             pu.RequestCount,
			LastRecoveryAt:           pu.LastRecoveryAt,
		}
		s.byID[u.ID] = u
		s.byToken[u.BearerToken] = u
	}
	return nil
}

// Save atomically rewrites config/users.json.
func (s *UserStore) Save() error {
	s.mu.Lock()
	doc := persistedUsersDoc{}
	for _, u := range s.byID {
		doc.Users = append(doc.Users, persistedUser{
			ID:                       u.ID,
			Token:                    u.BearerToken,
			Name:                     u.DisplayName,
			CreditLimit:              u.CreditLimit,
			CreditRecoveryAmount:     u.CreditRecoveryAmount,
			CreditRecoveryIntervalMs: u.CreditRecoveryIntervalMs,
			Enabled:                  u.Enabled,
			UsedCredits:              u.UsedCredits,
			TotalUsed:                u.TotalUsed,
			RequestCount:             u.RequestCount,
			LastRecoveryAt:           u.LastRecoveryAt,
		})
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return trace.Wrap(err)
	}
	return session.AtomicWriteFile(s.path, data)
}

// Authenticate resolves a bearer token to a user. A miss returns
// unauthorized.
func (s *UserStore) Authenticate(token string) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byToken[token]
	if !ok || !u.Enabled {
		return nil, false
	}
	cp := *u
	return &cp, true
}

// Add inserts a new user.
func (s *UserStore) Add(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[u.ID]; ok {
		return trace.AlreadyExists("user %q already exists", u.ID)
	}
	s.byID[u.ID] = u
	s.byToken[u.BearerToken] = u
	return nil
}

// Update applies patch under lock.
func (s *UserStore) Update(id string, patch func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return trace.NotFound("user %q not found", id)
	}
	patch(u)
	return nil
}

// Remove deletes a user.
func (s *UserStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return trace.NotFound("user %q not found", id)
	}
	delete(s.byToken, u.BearerToken)
	delete(s.byID, id)
	return nil
}

// Get returns a value-copy snapshot of a user.
func (s *UserStore) Get(id string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// List returns value-copy snapshots of every user.
func (s *UserStore) List() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, *u)
	}
	return out
}

// Deduct atomically pre-checks and deducts cost from a user's available
// credits (,). ok=false means
// the pre-check failed and nothing was deducted.
func (s *UserStore) Deduct(id string, cost float64) (ok bool, available float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, found := s.byID[id]
	if !found {
		return false, 0, trace.NotFound("user %q not found", id)
	}
	if cost <= 0 {
		// Free-tier models: no deduction, no pacing-counter increment.
		return true, u.Available(), nil
	}
	if u.Available() < cost {
		return false, u.Available(), nil
	}
	u.UsedCredits += cost
	u.TotalUsed += cost
	u.RequestCount++
	u.LastRequestAt = s.clock.Now()
	return true, u.Available(), nil
}

// Reset zeroes UsedCredits for every user (daily reset,).
func (s *UserStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		u.UsedCredits = 0
	}
}

// Recover scans every user and, for those whose recovery interval has
// elapsed since LastRecoveryAt, subtracts CreditRecoveryAmount from
// UsedCredits (clamped at 0) and stamps LastRecoveryAt := now.
func (s *UserStore) Recover(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		interval := u.RecoveryInterval()
		if interval <= 0 {
			continue
		}
		if u.LastRecoveryAt.IsZero() {
			u.LastRecoveryAt = now
			continue
		}
		if now.Sub(u.LastRecoveryAt) < interval {
			continue
		}
		u.UsedCredits -= u.CreditRecoveryAmount
		if u.UsedCredits < 0 {
			u.UsedCredits = 0
		}
		u.LastRecoveryAt = now
	}
}

// MinRecoveryTick is the scheduler period for the recovery sweep:
// min(every user's interval)/6, floored at CreditRecoveryMinInterval.
func (s *UserStore) MinRecoveryTick(floor time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var min time.Duration
	for _, u := range s.byID {
		iv := u.RecoveryInterval()
		if iv <= 0 {
			continue
		}
		if min == 0 || iv < min {
			min = iv
		}
	}
	if min == 0 {
		return floor
	}
	tick := min / 6
	if tick < floor {
		return floor
	}
	return tick
}
