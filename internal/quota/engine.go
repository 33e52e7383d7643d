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
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// Engine ties bearer-token authentication, rate limiting, and credit
// deduction together behind one call, matching the ordering mandated by
//: authenticate -> rate limit -> deduct.
type Engine struct {
	Users   *UserStore
	Limiter *RateLimiter
	clock   clockwork.Clock
}

// NewEngine constructs an Engine with its own per-token sliding-window
// limiter at the given requests-per-minute cap.
func NewEngine(users *UserStore, rpmCap int, clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		Users:   users,
		Limiter: NewRateLimiter(rpmCap, clock),
		clock:   clock,
	}
}

// Admit authenticates token, applies the rate limit, resolves the model's
// credit cost, and deducts it. It returns the authenticated user snapshot
// and the resolved cost so the caller can report them in its EventRecord
// and error responses.
func (e *Engine) Admit(token, model string) (user User, cost float64, err error) {
	u, ok := e.Users.Authenticate(token)
	if !ok {
		return User{}, 0, trace.AccessDenied("unauthorized")
	}

	if !e.Limiter.Allow(token) {
		return *u, 0, trace.LimitExceeded("rate_limited")
	}

	cost = CostOf(model)
	ok, available, err := e.Users.Deduct(u.ID, cost)
	if err != nil {
		return *u, cost, trace.Wrap(err)
	}
	if !ok {
		return *u, cost, &CreditsExhaustedError{
			Available:       available,
			NextRecoveryIn:  e.nextRecoveryEstimate(u),
		}
	}

	got, _ := e.Users.Get(u.ID)
	return got, cost, nil
}

func (e *Engine) nextRecoveryEstimate(u *User) time.Duration {
	interval := u.RecoveryInterval()
	if interval <= 0 {
		return 0
	}
	elapsed := e.clock.Now().Sub(u.LastRecoveryAt)
	remaining := interval - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CreditsExhaustedError reports a failed credit pre-check, carrying enough
// detail for the gateway to build the 429 body specified in
type CreditsExhaustedError struct {
	Available      float64
	NextRecoveryIn time.Duration
}

func (e *CreditsExhaustedError) Error() string {
	return "credits_exhausted"
}
