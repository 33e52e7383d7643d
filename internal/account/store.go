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
	"encoding/json"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational-labs/aegisgate/internal/session"
)

// persistedDoc is the on-disk shape of config/accounts.json.
type persistedDoc struct {
	Accounts []persistedAccount `json:"accounts"`
}

type persistedAccount struct {
	ID         string `json:"id"`
	BaseURL    string `json:"baseUrl"`
	APIKey     string `json:"apiKey"`
	Model      string `json:"model"`
	Enabled    bool   `json:"enabled"`
	DailyLimit int64  `json:"dailyLimit"`
}

// Store is the ordered, mutex-serialised mapping of account id -> stored
// credential + runtime state, file-backed the same way session.Store is.
type Store struct {
	mu    sync.Mutex
	clock clockwork.Clock
	path  string

	// defaultDailyLimit backs any persisted account whose dailyLimit is
	// zero (DEFAULT_ACCOUNT_DAILY_LIMIT), the same way an operator leaves
	// a session's dailyLimit unset to inherit a fleet-wide cap.
	defaultDailyLimit int64

	order []string
	byID  map[string]*Account
}

// NewStore constructs an empty store backed by path (config/accounts.json
// by default, overridable via ACCOUNT_POOL_FILE).
func NewStore(path string, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{clock: clock, path: path, byID: map[string]*Account{}}
}

// SetDefaultDailyLimit configures the fallback dailyLimit applied to any
// persisted account that doesn't specify its own, taking effect on the next
// Load or Reload.
func (s *Store) SetDefaultDailyLimit(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultDailyLimit = n
}

// Load reads the persisted document from disk, replacing in-memory state
// entirely. A missing file loads an empty pool rather than erroring, since
// an operator running in platform-session-only mode never creates one.
func (s *Store) Load() error {
	doc, err := s.readDoc()
	if err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.byID = map[string]*Account{}
	for _, pa := range doc.Accounts {
		acc := s.fromPersistedLocked(pa)
		s.order = append(s.order, acc.ID)
		s.byID[acc.ID] = acc
	}
	return nil
}

// Reload re-reads the file, preserving in-memory runtime counters for
// account ids present in the new file.
func (s *Store) Reload() error {
	doc, err := s.readDoc()
	if err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	newOrder := make([]string, 0, len(doc.Accounts))
	newByID := make(map[string]*Account, len(doc.Accounts))
	for _, pa := range doc.Accounts {
		acc := s.fromPersistedLocked(pa)
		if existing, ok := s.byID[acc.ID]; ok {
			acc.ConsecutiveFails = existing.ConsecutiveFails
			acc.ConsecutiveOK = existing.ConsecutiveOK
			acc.UsedTokens = existing.UsedTokens
			acc.RequestsServed = existing.RequestsServed
			acc.LastHealthCheckAt = existing.LastHealthCheckAt
		}
		newOrder = append(newOrder, acc.ID)
		newByID[acc.ID] = acc
	}
	s.order = newOrder
	s.byID = newByID
	return nil
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

// Save atomically rewrites the persisted document, sharing the
// mkdir-p/write-temp/rename helper session.Store uses for its own file.
func (s *Store) Save() error {
	s.mu.Lock()
	doc := s.toPersistedLocked()
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return trace.Wrap(err)
	}
	return session.AtomicWriteFile(s.path, data)
}

func (s *Store) toPersistedLocked() persistedDoc {
	doc := persistedDoc{Accounts: make([]persistedAccount, 0, len(s.order))}
	for _, id := range s.order {
		acc := s.byID[id]
		doc.Accounts = append(doc.Accounts, persistedAccount{
			ID: acc.ID, BaseURL: acc.BaseURL, APIKey: acc.APIKey, Model: acc.Model,
			Enabled: acc.Enabled, DailyLimit: acc.DailyLimit,
		})
	}
	return doc
}

// fromPersistedLocked must be called with s.mu held (Load/Reload both hold
// it across the whole conversion pass).
func (s *Store) fromPersistedLocked(pa persistedAccount) *Account {
	dailyLimit := pa.DailyLimit
	if dailyLimit == 0 {
		dailyLimit = s.defaultDailyLimit
	}
	return &Account{
		ID: pa.ID, BaseURL: pa.BaseURL, APIKey: pa.APIKey, Model: pa.Model,
		Enabled: pa.Enabled, DailyLimit: dailyLimit,
	}
}

// Add inserts a new account, stamping a fresh id via uuid when the caller
// didn't supply one. Returns AlreadyExists if the id is already present.
func (s *Store) Add(acc *Account) error {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[acc.ID]; ok {
		return trace.AlreadyExists("account %q already exists", acc.ID)
	}
	s.order = append(s.order, acc.ID)
	s.byID[acc.ID] = acc
	return nil
}

// Update applies patch to the account under lock.
func (s *Store) Update(id string, patch func(*Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.byID[id]
	if !ok {
		return trace.NotFound("account %q not found", id)
	}
	patch(acc)
	return nil
}

// Get returns a value-copy snapshot of an account.
func (s *Store) Get(id string) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.byID[id]
	if !ok {
		return Account{}, false
	}
	return *acc, true
}

// List returns value-copy snapshots of every account, in store order.
func (s *Store) List() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Account, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Pick returns the least-used (lowest UsedTokens) enabled account willing
// to serve model: an account with a model preference serves only that
// model, and an empty model matches every enabled account.
func (s *Store) Pick(model string) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Account
	for _, id := range s.order {
		acc := s.byID[id]
		if !acc.Enabled {
			continue
		}
		if acc.Model != "" && model != "" && acc.Model != model {
			continue
		}
		if best == nil || acc.UsedTokens < best.UsedTokens {
			best = acc
		}
	}
	if best == nil {
		return Account{}, false
	}
	return *best, true
}

// RecordUsage increments an account's usage counters and disables it with
// reason daily_limit_reached once its dailyLimit is hit.
func (s *Store) RecordUsage(id string, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.byID[id]
	if !ok {
		return trace.NotFound("account %q not found", id)
	}
	acc.UsedTokens += tokens
	acc.RequestsServed++
	if acc.DailyLimit > 0 && acc.UsedTokens >= acc.DailyLimit {
		acc.Disable(ReasonDailyLimitReached)
	}
	return nil
}

// ResetDaily zeroes every account's daily usage counter and re-enables any
// account whose sole disable reason was daily_limit_reached.
func (s *Store) ResetDaily() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		acc := s.byID[id]
		acc.UsedTokens = 0
		if acc.DisabledReason == ReasonDailyLimitReached {
			acc.Enable()
		}
	}
}
