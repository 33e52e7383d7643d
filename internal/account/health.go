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
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gravitational/trace"
)

// Checker probes one account for liveness. Kept as an interface so the
// background health monitor is testable without a real HTTP round trip.
type Checker interface {
	Check(ctx context.Context, acc Account) error
}

// httpChecker is the production Checker: a GET against the
// OpenAI-compatible "/models" endpoint, treating any non-2xx status or
// transport error as unhealthy.
type httpChecker struct {
	client *http.Client
}

// NewHTTPChecker builds a Checker bounded by timeout per call.
func NewHTTPChecker(timeout time.Duration) Checker {
	return &httpChecker{client: &http.Client{Timeout: timeout}}
}

func (c *httpChecker) Check(ctx context.Context, acc Account) error {
	url := strings.TrimRight(acc.BaseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	if acc.APIKey != "" {
		req.Header.Set("authorization", "Bearer "+acc.APIKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return trace.ConnectionProblem(err, "account health probe failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return trace.ConnectionProblem(nil, "account health probe returned status %d", resp.StatusCode)
	}
	return nil
}

// CheckAll probes every account except those disabled in config or for
// reaching their daily limit (accounts disabled by failed probes are still
// probed so they can recover), applying the same
// consecutive-failure/recovery threshold the session health monitor uses,
// and returns the ids that changed disabled state this pass.
func (s *Store) CheckAll(ctx context.Context, checker Checker, failureThreshold, recoveryThreshold int) (disabled, reenabled []string) {
	for _, acc := range s.List() {
		if acc.DisabledReason == ReasonDisabledInConfig || acc.DisabledReason == ReasonDailyLimitReached {
			continue
		}
		probeErr := checker.Check(ctx, acc)
		id := acc.ID

		_ = s.Update(id, func(a *Account) {
			a.LastHealthCheckAt = s.clock.Now()
			if probeErr != nil {
				a.ConsecutiveFails++
				a.ConsecutiveOK = 0
				if a.Enabled && a.ConsecutiveFails >= failureThreshold {
					a.Disable(ReasonHealthCheckFailed)
				}
				return
			}
			a.ConsecutiveOK++
			a.ConsecutiveFails = 0
			if !a.Enabled && a.DisabledReason == ReasonHealthCheckFailed && a.ConsecutiveOK >= recoveryThreshold {
				a.Enable()
			}
		})

		after, ok := s.Get(id)
		if !ok {
			continue
		}
		switch {
		case probeErr != nil && !after.Enabled && acc.Enabled:
			disabled = append(disabled, id)
		case probeErr == nil && after.Enabled && acc.DisabledReason == ReasonHealthCheckFailed:
			reenabled = append(reenabled, id)
		}
	}
	return disabled, reenabled
}
