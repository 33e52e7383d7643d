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

package gatewayhttp

import (
	"context"
	"net/http"
	"strings"

	"github.com/gravitational/oxy/forward"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/gravitational-labs/aegisgate/internal/account"
	"github.com/gravitational-labs/aegisgate/internal/adapter"
	"github.com/gravitational-labs/aegisgate/internal/affinity"
	"github.com/gravitational-labs/aegisgate/internal/quota"
	"github.com/gravitational-labs/aegisgate/internal/session"
	"github.com/gravitational-labs/aegisgate/internal/telemetry"
)

// Deps are every collaborator the HTTP surface needs. Nothing in this
// package owns its own copy of mutable state; it only orchestrates calls
// across the components built elsewhere in the module.
type Deps struct {
	Sessions  *session.Store
	Accounts  *account.Store
	Users     *quota.UserStore
	Engine    *quota.Engine
	Affinity  *affinity.Router
	Adapters  *adapter.Registry
	Bandwidth *telemetry.Bandwidth
	Events    *telemetry.EventLog
	Metrics   *telemetry.PrometheusExporter
	Registry  prometheus.Gatherer

	Clock clockwork.Clock
	Log   logrus.FieldLogger

	ServiceName             string
	SimulateMode            bool
	RefundOnUpstreamFailure bool
	MaxJSONBodyBytes        int64

	// AccountChecker backs the on-demand /admin/accounts/health-check
	// route; nil disables it rather than panicking.
	AccountChecker           account.Checker
	AccountFailureThreshold  int
	AccountRecoveryThreshold int

	// UpstreamClient overrides the HTTP client used to forward /exa.*,
	// /v1/chat/completions, and local-account requests; nil uses
	// http.DefaultClient.
	UpstreamClient httpDoer
}

// Server is the gateway's HTTP surface.
type Server struct {
	deps      Deps
	router    *httprouter.Router
	http      *http.Server
	forwarder *forward.Forwarder
}

// New builds a Server and registers every route.
func New(addr string, deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if deps.ServiceName == "" {
		deps.ServiceName = "aegisgate"
	}
	if deps.MaxJSONBodyBytes <= 0 {
		deps.MaxJSONBodyBytes = 1 << 20
	}
	if deps.AccountFailureThreshold <= 0 {
		deps.AccountFailureThreshold = 3
	}
	if deps.AccountRecoveryThreshold <= 0 {
		deps.AccountRecoveryThreshold = 2
	}

	s := &Server{deps: deps, router: httprouter.New()}
	fwd, err := newForwarder(s)
	if err != nil {
		// Only fails on malformed static options above; never at runtime.
		panic(err)
	}
	s.forwarder = fwd
	s.routes()
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.instrument(s.dispatch()),
	}
	return s
}

// dispatch routes the "POST /exa.<service>/<method>" passthrough around
// httprouter: the real path embeds dots directly after the leading
// segment (e.g. "/exa.api_server_pb.ApiServerService/GetChatMessage"),
// which httprouter's param/catch-all syntax can't express as a single
// registered pattern, so the prefix is special-cased ahead of the router.
func (s *Server) dispatch() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/exa.") {
			s.handlePlatformPassthrough(w, r, nil)
			return
		}
		s.router.ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/v1/models", s.handleModels)
	s.router.GET("/v1/credits", s.handleCredits)
	s.router.POST("/v1/chat/completions", s.handleChatCompletions)

	s.router.GET("/admin/bandwidth", s.handleAdminBandwidth)
	s.router.GET("/soc/events", s.handleSOCEvents)
	s.router.GET("/soc/alerts", s.handleSOCAlerts)

	if s.deps.Registry != nil {
		s.router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{}))
	}

	s.router.GET("/admin/accounts/status", s.handleAdminAccountsStatus)
	s.router.POST("/admin/accounts/reload", s.handleAdminAccountsReload)
	s.router.POST("/admin/accounts/health-check", s.handleAdminAccountsHealthCheck)

	s.router.GET("/admin/sessions/status", s.handleAdminSessionsStatus)
	s.router.POST("/admin/sessions/register", s.handleAdminSessionsRegister)
	s.router.POST("/admin/sessions/remove", s.handleAdminSessionsRemove)
	s.router.POST("/admin/sessions/reload", s.handleAdminSessionsReload)
	s.router.POST("/admin/sessions/health-check", s.handleAdminSessionsHealthCheck)

	s.router.GET("/admin/users/status", s.handleAdminUsersStatus)
	s.router.POST("/admin/users/create", s.handleAdminUsersCreate)
	s.router.POST("/admin/users/update", s.handleAdminUsersUpdate)
	s.router.POST("/admin/users/delete", s.handleAdminUsersDelete)
	s.router.POST("/admin/users/reset-credits", s.handleAdminUsersResetCredits)
	s.router.POST("/admin/users/reload", s.handleAdminUsersReload)
}

// instrument wraps h so every request feeds the bandwidth ring and exactly
// one EventRecord per request.
func (s *Server) instrument(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := s.deps.Bandwidth.BeginRequest()
		rec := &statusRecorder{ResponseWriter: w, status: 200}

		var bytesIn int64
		if r.ContentLength > 0 {
			bytesIn = r.ContentLength
		}

		h.ServeHTTP(rec, r)

		done(bytesIn, rec.bytesOut, rec.status)

		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveRequest(rec.status)
		}

		if s.deps.Events != nil {
			s.deps.Events.Append(telemetry.EventRecord{
				Timestamp: s.deps.Clock.Now(),
				Method:    r.Method,
				Path:      r.URL.Path,
				IP:        telemetry.ClientIPFromRemoteAddr(r.RemoteAddr),
				TokenHash: telemetry.TokenHash(bearerToken(r)),
				Status:    rec.status,
			})
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status   int
	bytesOut int64
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytesOut += int64(n)
	return n, err
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// Run starts the HTTP listener and blocks until it exits.
func (s *Server) Run() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return trace.Wrap(err)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return trace.Wrap(s.http.Shutdown(ctx))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"service": s.deps.ServiceName,
	})
}
