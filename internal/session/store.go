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
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// persistedDoc is the on-disk shape of config/sessions.json,
// extended with a runtime snapshot per session so a restart does not lose
// counters gathered since the last config edit.
type persistedDoc struct {
	Sessions []persistedSession `json:"sessions"`
}

type persistedSession struct {
	ID       string           `json:"id"`
	Platform string           `json:"platform"`
	Label    string           `json:"label"`
	PoolName string           `json:"poolName"`
	Enabled  bool             `json:"enabled"`
	Extra    persistedExtra   `json:"extra"`
	Runtime  persistedRuntime `json:"runtime,omitempty"`
}

type persistedExtra struct {
	APIKey         string `json:"apiKey"`
	FirebaseIDTok  string `json:"firebaseIdToken"`
	UID            string `json:"uid"`
	RefreshToken   string `json:"refreshToken"`
	Email          string `json:"email"`
}

type persistedRuntime struct {
	DisabledReason   DisableReason `json:"disabledReason,omitempty"`
	ConsecutiveFails int           `json:"consecutiveFailures"`
	ConsecutiveOK    int           `json:"consecutiveSuccesses"`
	UsedRequests     int64         `json:"usedRequests"`
	UsedTokens       int64         `json:"usedTokens"`
	DailyLimit       int64         `json:"dailyLimit"`
	CreditsRemaining float64       `json:"creditsRemaining"`
	CreditsTotal     float64       `json:"creditsTotal"`
	RequestsServed   int64         `json:"requestsServed"`
	LastModelSeen    string        `json:"lastModelSeen"`
	ExpiresAt        time.Time     `json:"expiresAt,omitempty"`
	AcquiredAt       time.Time     `json:"acquiredAt,omitempty"`
}

// Store is the ordered, mutex-serialised mapping of session id ->
// credentials + runtime state. All mutating operations
// appear serialised per session id; readers observe a consistent snapshot.
type Store struct {
	mu    sync.Mutex
	clock clockwork.Clock
	path  string

	order []string
	byID  map[string]*Session
}

// NewStore constructs an empty store backed by path (config/sessions.json
// by default, overridable via SESSIONS_FILE).
func NewStore(path string, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock: clock,
		path:  path,
		byID:  map[string]*Session{},
	}
}

// Load reads the persisted document from disk, replacing in-memory state
// entirely. Use Reload to refresh from disk while preserving runtime
// counters.
func (s *Store) Load() error {
	doc, err := s.readDoc()
	if err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.byID = map[string]*Session{}
	for _, ps := range doc.Sessions {
		sess := fromPersisted(ps)
		s.order = append(s.order, sess.ID)
		s.byID[sess.ID] = sess
	}
	return nil
}

// Reload re-reads the file, preserving in-memory runtime counters for
// session ids present in the new file.
func (s *Store) Reload() error {
	doc, err := s.readDoc()
	if err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	newOrder := make([]string, 0, len(doc.Sessions))
	newByID := make(map[string]*Session, len(doc.Sessions))
	for _, ps := range doc.Sessions {
		sess := fromPersisted(ps)
		if existing, ok := s.byID[sess.ID]; ok {
			preserveRuntime(sess, existing)
		}
		newOrder = append(newOrder, sess.ID)
		newByID[sess.ID] = sess
	}
	s.order = newOrder
	s.byID = newByID
	return nil
}

// preserveRuntime copies runtime counters from an existing in-memory
// session onto a freshly loaded one, keeping the freshly loaded
// configuration fields (credentials, enabled, platform, etc) intact.
func preserveRuntime(fresh, existing *Session) {
	fresh.ConsecutiveFails = existing.ConsecutiveFails
	fresh.ConsecutiveOK = existing.ConsecutiveOK
	fresh.LastKeepaliveAt = existing.LastKeepaliveAt
	fresh.LastHealthCheckAt = existing.LastHealthCheckAt
	fresh.LastUsedAt = existing.LastUsedAt
	fresh.UsedRequests = existing.UsedRequests
	fresh.UsedTokens = existing.UsedTokens
	fresh.CreditsRemaining = existing.CreditsRemaining
	fresh.CreditsTotal = existing.CreditsTotal
	fresh.RequestsServed = existing.RequestsServed
	fresh.LastModelSeen = existing.LastModelSeen
}

func (s *Store) readDoc() (persistedDoc, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return persistedDoc{}, nil
	}
	if err != nil {
		return persistedDoc{}, trace.Wrap(err)
	}
	var doc persistedDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return persistedDoc{}, trace.Wrap(err, "parsing %s", s.path)
	}
	return doc, nil
}

// Save atomically rewrites the persisted document: mkdir -p, write temp,
// rename.
func (s *Store) Save() error {
	s.mu.Lock()
	doc := s.toPersistedLocked()
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return trace.Wrap(err)
	}
	return AtomicWriteFile(s.path, data)
}

// AtomicWriteFile writes data to path via mkdir -p, write temp, rename
//; shared by the session and quota
// stores so both config documents are written the same way.
func AtomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return trace.Wrap(err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return trace.Wrap(err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return trace.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return trace.Wrap(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return trace.Wrap(err)
	}
	return nil
}

func (s *Store) toPersistedLocked() persistedDoc {
	doc := persistedDoc{Sessions: make([]persistedSession, 0, len(s.order))}
	for _, id := range s.order {
		sess := s.byID[id]
		doc.Sessions = append(doc.Sessions, toPersisted(sess))
	}
	return doc
}

func fromPersisted(ps persistedSession) *Session {
	return &Session{
		ID:       ps.ID,
		Platform: ps.Platform,
		Owner:    ps.Extra.Email,
		Creds: Credentials{
			APIKey:       ps.Extra.APIKey,
			JWT:          ps.Extra.FirebaseIDTok,
			RefreshToken: ps.Extra.RefreshToken,
		},
		Enabled:          ps.Enabled && ps.Runtime.DisabledReason == ReasonNone,
		DisabledReason:   ps.Runtime.DisabledReason,
		ConsecutiveFails: ps.Runtime.ConsecutiveFails,
		ConsecutiveOK:    ps.Runtime.ConsecutiveOK,
		UsedRequests:     ps.Runtime.UsedRequests,
		UsedTokens:       ps.Runtime.UsedTokens,
		DailyLimit:       ps.Runtime.DailyLimit,
		CreditsRemaining: ps.Runtime.CreditsRemaining,
		CreditsTotal:     ps.Runtime.CreditsTotal,
		RequestsServed:   ps.Runtime.RequestsServed,
		LastModelSeen:    ps.Runtime.LastModelSeen,
		ExpiresAt:        ps.Runtime.ExpiresAt,
		AcquiredAt:       ps.Runtime.AcquiredAt,
	}
}

func toPersisted(s *Session) persistedSession {
	return persistedSession{
		ID:       s.ID,
		Platform: s.Platform,
		Label:    s.Owner,
		Enabled:  s.Enabled,
		Extra: persistedExtra{
			APIKey:        s.Creds.APIKey,
			FirebaseIDTok: s.Creds.JWT,
			RefreshToken:  s.Creds.RefreshToken,
			Email:         s.Owner,
		},
		Runtime: persistedRuntime{
			DisabledReason:   s.DisabledReason,
			ConsecutiveFails: s.ConsecutiveFails,
			ConsecutiveOK:    s.ConsecutiveOK,
			UsedRequests:     s.UsedRequests,
			UsedTokens:       s.UsedTokens,
			DailyLimit:       s.DailyLimit,
			CreditsRemaining: s.CreditsRemaining,
			CreditsTotal:     s.CreditsTotal,
			RequestsServed:   s.RequestsServed,
			LastModelSeen:    s.LastModelSeen,
			ExpiresAt:        s.ExpiresAt,
			AcquiredAt:       s.AcquiredAt,
		},
	}
}

// Add inserts a new session, stamping a fresh id via uuid when the caller
// didn't supply one (e.g. a freshly harvested session registered before the
// operator assigns it a human-readable one). Returns AlreadyExists if
// the id is already present.
func (s *Store) Add(sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[sess.ID]; ok {
		return trace.AlreadyExists("session %q already exists", sess.ID)
	}
	if sess.AcquiredAt.IsZero() {
		sess.AcquiredAt = s.clock.Now()
	}
	s.order = append(s.order, sess.ID)
	s.byID[sess.ID] = sess
	return nil
}

// Update applies patch to the session under lock, so the caller never
// observes a half-mutated Session.
func (s *Store) Update(id string, patch func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return trace.NotFound("session %q not found", id)
	}
	patch(sess)
	return nil
}

// Remove deletes a session from the pool.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return trace.NotFound("session %q not found", id)
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns a value-copy snapshot of a session.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// List returns value-copy snapshots of every session, in store order.
func (s *Store) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Pick returns the least-used (lowest UsedTokens) enabled session, filtered
// by platform when platform is non-empty.
func (s *Store) Pick(platform string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Session
	for _, id := range s.order {
		sess := s.byID[id]
		if !sess.Enabled {
			continue
		}
		if platform != "" && sess.Platform != platform {
			continue
		}
		if best == nil || sess.UsedTokens < best.UsedTokens {
			best = sess
		}
	}
	if best == nil {
		return Session{}, false
	}
	return *best, true
}

// RecordUsage increments a session's usage counters and, if a dailyLimit is
// set and has now been reached, atomically disables the session with
// reason quota_exhausted.
func (s *Store) RecordUsage(id string, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return trace.NotFound("session %q not found", id)
	}
	sess.UsedRequests++
	sess.UsedTokens += tokens
	sess.RequestsServed++
	sess.LastUsedAt = s.clock.Now()
	if sess.DailyLimit > 0 && sess.UsedTokens >= sess.DailyLimit {
		sess.Disable(ReasonQuotaExhausted)
	}
	return nil
}

// DeductCredits atomically decreases a session's remaining credits by
// amount (never below zero; credits are monotonically non-increasing
// between explicit adjustments, invariant/property 6). It returns the
// resulting balance and whether this call just crossed to zero or below,
// which the affinity router uses to evict bindings pointing at the
// session.
func (s *Store) DeductCredits(id string, amount float64) (remaining float64, justDepleted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return 0, false, trace.NotFound("session %q not found", id)
	}
	before := sess.CreditsRemaining
	sess.CreditsRemaining -= amount
	if sess.CreditsRemaining < 0 {
		sess.CreditsRemaining = 0
	}
	justDepleted = before > 0 && sess.CreditsRemaining <= 0
	return sess.CreditsRemaining, justDepleted, nil
}

// SetModelSeen records the last model name routed to a session.
func (s *Store) SetModelSeen(id, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byID[id]; ok {
		sess.LastModelSeen = model
	}
}

// ExpireStale disables every session whose Expired(now) predicate holds,
// with reason session_expired, run before health checks.
func (s *Store) ExpireStale(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for _, id := range s.order {
		sess := s.byID[id]
		if sess.Enabled && sess.Expired(now) {
			sess.Disable(ReasonSessionExpired)
			expired = append(expired, id)
		}
	}
	return expired
}

// ReenableQuotaExhausted re-enables every session whose sole disable reason
// is quota_exhausted, for the daily-reset background task.
func (s *Store) ReenableQuotaExhausted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		sess := s.byID[id]
		if sess.DisabledReason == ReasonQuotaExhausted {
			sess.Enable()
			sess.UsedTokens = 0
		}
	}
}
