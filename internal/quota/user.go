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

// Package quota implements the per-user rate limiter, model-weighted
// credit deduction, and credit recovery scheduler.
package quota

import "time"

// User is an internal bearer-token identity subject to rate and credit
// limits.
type User struct {
	ID                       string
	BearerToken              string
	DisplayName              string
	CreditLimit              float64
	CreditRecoveryAmount     float64
	CreditRecoveryIntervalMs int64
	Enabled                  bool

	UsedCredits    float64
	TotalUsed      float64
	RequestCount   int64
	LastRequestAt  time.Time
	LastRecoveryAt time.Time
}

// Available returns the user's remaining credit headroom.
func (u *User) Available() float64 {
	return u.CreditLimit - u.UsedCredits
}

// RecoveryInterval is CreditRecoveryIntervalMs as a time.Duration.
func (u *User) RecoveryInterval() time.Duration {
	return time.Duration(u.CreditRecoveryIntervalMs) * time.Millisecond
}
