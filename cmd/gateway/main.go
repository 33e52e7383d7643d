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

// Command gateway runs the aegisgate HTTP surface: the OpenAI-shaped chat
// API, the raw Platform passthrough, and the admin/SOC endpoints, backed by
// the session pool, credit engine, and affinity router.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/gravitational-labs/aegisgate/internal/account"
	"github.com/gravitational-labs/aegisgate/internal/adapter"
	"github.com/gravitational-labs/aegisgate/internal/affinity"
	"github.com/gravitational-labs/aegisgate/internal/config"
	"github.com/gravitational-labs/aegisgate/internal/defaults"
	"github.com/gravitational-labs/aegisgate/internal/gatewayhttp"
	"github.com/gravitational-labs/aegisgate/internal/health"
	"github.com/gravitational-labs/aegisgate/internal/quota"
	"github.com/gravitational-labs/aegisgate/internal/session"
	"github.com/gravitational-labs/aegisgate/internal/telemetry"
)

func main() {
	app := kingpin.New("aegisgate", "Multi-tenant intercepting gateway for Platform-compatible IDE traffic.")
	debug := app.Flag("debug", "Enable verbose logging.").Bool()
	if _, err := app.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logrus.StandardLogger()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := run(log); err != nil {
		log.WithError(err).Fatal("gateway exited with error")
	}
}

func run(log *logrus.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return trace.Wrap(err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	clock := clockwork.NewRealClock()

	sessions := session.NewStore(cfg.SessionsFile, clock)
	if err := sessions.Load(); err != nil {
		return trace.Wrap(err, "loading %s", cfg.SessionsFile)
	}

	users := quota.NewUserStore(cfg.UsersFile, clock)
	if err := users.Load(); err != nil {
		return trace.Wrap(err, "loading %s", cfg.UsersFile)
	}

	accounts := account.NewStore(cfg.AccountPoolFile, clock)
	accounts.SetDefaultDailyLimit(cfg.DefaultAccountDailyLimit)
	if err := accounts.Load(); err != nil {
		return trace.Wrap(err, "loading %s", cfg.AccountPoolFile)
	}
	accountChecker := account.NewHTTPChecker(cfg.AccountHealthcheckTimeoutMs)

	engine := quota.NewEngine(users, cfg.MaxRPMPerToken, clock)

	affinityRouter, err := affinity.NewRouter(affinity.Config{
		TTL:             cfg.SessionAffinityTTLMs,
		MaxUsersPerSess: cfg.MaxUsersPerSession,
		Clock:           clock,
		Log:             log.WithField("component", "affinity"),
	})
	if err != nil {
		return trace.Wrap(err)
	}

	adapters := adapter.NewRegistry()
	adapters.Register(&adapter.PlatformAdapter{
		Host:        defaults.PlatformHost,
		BaseURL:     "https://" + defaults.PlatformHost,
		ContentType: defaults.PlatformContentType,
	})
	log.WithField("adapters", adapters.IDs()).Info("registered platform adapters")

	bandwidth := telemetry.NewBandwidth(defaults.BandwidthRetention, clock)
	events := telemetry.NewEventLog(cfg.EventRetention, clock)

	registry := prometheus.NewRegistry()
	exporter := telemetry.NewPrometheusExporter(registry, cfg.MetricsNamespace)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor, err := health.New(health.Config{
		Store:    sessions,
		Adapters: adapters,
		Prober:   health.NewHTTPProber(defaults.SessionHealthcheckTimeout),
		Refresher: health.NewFirebaseRefresher(
			cfg.FirebaseAPIKey, cfg.TokenRefreshURL, defaults.SessionHealthcheckTimeout),
		Clock:                clock,
		Log:                  log.WithField("component", "health"),
		KeepaliveInterval:    cfg.SessionKeepaliveMs,
		HealthCheckInterval:  cfg.SessionHealthCheckMs,
		TokenRefreshInterval: cfg.TokenRefreshIntervalMs,
		FailureThreshold:     defaults.HealthCheckFailureThreshold,
		RecoveryThreshold:    defaults.HealthCheckRecoveryThreshold,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	go monitor.Run(ctx)

	go runRecoveryScheduler(ctx, users, clock, log)
	go runAffinitySweeper(ctx, affinityRouter, clock, log)
	go runDailyReset(ctx, sessions, users, accounts, clock, log)
	go runMetricsScrape(ctx, exporter, bandwidth, sessions, users, clock)
	go runAccountHealthMonitor(ctx, accounts, accountChecker, cfg.AccountHealthcheckMs, clock, log)

	srv := gatewayhttp.New(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), gatewayhttp.Deps{
		Sessions:                 sessions,
		Accounts:                 accounts,
		Users:                    users,
		Engine:                   engine,
		Affinity:                 affinityRouter,
		Adapters:                 adapters,
		Bandwidth:                bandwidth,
		Events:                   events,
		Metrics:                  exporter,
		Registry:                 registry,
		Clock:                    clock,
		Log:                      log.WithField("component", "gatewayhttp"),
		ServiceName:              defaults.ServiceName,
		SimulateMode:             cfg.SimulateMode,
		RefundOnUpstreamFailure:  cfg.RefundOnUpstreamFailure,
		MaxJSONBodyBytes:         defaults.MaxJSONBodyBytes,
		AccountChecker:           accountChecker,
		AccountFailureThreshold:  defaults.HealthCheckFailureThreshold,
		AccountRecoveryThreshold: defaults.HealthCheckRecoveryThreshold,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return trace.Wrap(err)
	case <-sigCh:
		log.Info("received shutdown signal, draining in-flight requests")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return trace.Wrap(srv.Shutdown(shutdownCtx))
	}
}

// runRecoveryScheduler sweeps the credit-recovery pass on a tick no
// coarser than any user's own interval/6, floored at
// CreditRecoveryMinInterval.
func runRecoveryScheduler(ctx context.Context, users *quota.UserStore, clock clockwork.Clock, log logrus.FieldLogger) {
	ticker := clock.NewTicker(users.MinRecoveryTick(defaults.CreditRecoveryMinInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			users.Recover(clock.Now())
			if err := users.Save(); err != nil {
				log.WithError(err).Warn("failed to persist users after credit recovery")
			}
		}
	}
}

// runAffinitySweeper purges expired bindings from the affinity router's
// reverse index every AffinitySweepInterval.
func runAffinitySweeper(ctx context.Context, router *affinity.Router, clock clockwork.Clock, log logrus.FieldLogger) {
	ticker := clock.NewTicker(defaults.AffinitySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			router.Sweep()
		}
	}
}

// runDailyReset zeroes every user's and account's daily usage and
// re-enables any session or account disabled solely for quota exhaustion,
// once every 24h of process uptime. A production deployment should align
// this to local midnight; anchoring to wall-clock midnight is tracked as an
// open question since the source's own cron expression assumed a single
// fixed timezone.
func runDailyReset(ctx context.Context, sessions *session.Store, users *quota.UserStore, accounts *account.Store, clock clockwork.Clock, log logrus.FieldLogger) {
	ticker := clock.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			users.Reset()
			sessions.ReenableQuotaExhausted()
			accounts.ResetDaily()
			if err := users.Save(); err != nil {
				log.WithError(err).Warn("failed to persist users after daily reset")
			}
			if err := sessions.Save(); err != nil {
				log.WithError(err).Warn("failed to persist sessions after daily reset")
			}
			if err := accounts.Save(); err != nil {
				log.WithError(err).Warn("failed to persist accounts after daily reset")
			}
		}
	}
}

// runAccountHealthMonitor probes the local upstream account pool every
// interval (ACCOUNT_HEALTHCHECK_MS, falling back to
// AccountHealthMonitorInterval when unset), applying the same consecutive
// failure/recovery thresholds the session health monitor uses.
func runAccountHealthMonitor(ctx context.Context, accounts *account.Store, checker account.Checker, interval time.Duration, clock clockwork.Clock, log logrus.FieldLogger) {
	if interval <= 0 {
		interval = defaults.AccountHealthMonitorInterval
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			disabled, reenabled := accounts.CheckAll(ctx, checker,
				defaults.HealthCheckFailureThreshold, defaults.HealthCheckRecoveryThreshold)
			if len(disabled) > 0 || len(reenabled) > 0 {
				log.WithField("disabled", disabled).WithField("reenabled", reenabled).Info("account health monitor sweep")
			}
		}
	}
}

// runMetricsScrape feeds the Prometheus exporter from the bandwidth and
// session/user stores every 15s, decoupling metric collection from the
// request hot path.
func runMetricsScrape(ctx context.Context, exporter *telemetry.PrometheusExporter, bandwidth *telemetry.Bandwidth, sessions *session.Store, users *quota.UserStore, clock clockwork.Clock) {
	ticker := clock.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			totals := telemetry.SessionTotals{}
			for _, sess := range sessions.List() {
				if sess.Enabled {
					totals.Enabled++
				} else {
					totals.Disabled++
				}
				totals.CreditsRemaining += sess.CreditsRemaining
			}
			exporter.Collect(bandwidth.Snapshot(), totals)
		}
	}
}
