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

package health

import (
	"encoding/json"
	"time"

	jose "gopkg.in/square/go-jose.v2"
)

// jwtClaims is the subset of a Platform session JWT's payload this package
// reads. The gateway never holds the Platform's signing key, so claims are
// decoded without signature verification - exactly as much trust as a
// client that can't validate the token either, used only to schedule a
// refresh before the upstream rejects it on its own.
type jwtClaims struct {
	Exp int64 `json:"exp"`
}

// jwtExpiry returns the JWT's exp claim, or the zero time if the token
// isn't a parseable compact JWS or carries no exp claim.
func jwtExpiry(token string) time.Time {
	sig, err := jose.ParseSigned(token)
	if err != nil {
		return time.Time{}
	}
	payload := sig.UnsafePayloadWithoutVerification()
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp == 0 {
		return time.Time{}
	}
	return time.Unix(claims.Exp, 0)
}

// jwtExpiringSoon reports whether token's exp claim falls within within of
// now, or the token's expiry can't be determined at all - an undecodable
// token is treated as due for refresh rather than silently skipped.
func jwtExpiringSoon(token string, now time.Time, within time.Duration) bool {
	exp := jwtExpiry(token)
	if exp.IsZero() {
		return true
	}
	return !exp.After(now.Add(within))
}
