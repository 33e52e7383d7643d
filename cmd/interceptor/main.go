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

// Command interceptor runs on the client host. It never takes traffic
// decisions from argv: the host UI drives its five lifecycle operations
// (initialize, run, stop, restore, status) over the loopback control
// server started here.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/gravitational-labs/aegisgate/internal/config"
	"github.com/gravitational-labs/aegisgate/internal/hostsctl"
	"github.com/gravitational-labs/aegisgate/internal/interceptor"
)

func main() {
	app := kingpin.New("aegisgate-interceptor", "Client-host TLS interception proxy for Platform IDE traffic.")
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
		log.WithError(err).Fatal("interceptor exited with error")
	}
}

func run(log *logrus.Logger) error {
	cfg, err := config.LoadInterceptor()
	if err != nil {
		return trace.Wrap(err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	ca, err := interceptor.LoadOrCreateCA(cfg.CACertFile, cfg.CAKeyFile)
	if err != nil {
		return trace.Wrap(err, "loading interception CA")
	}
	leafCache, err := interceptor.NewLeafCache(ca, cfg.LeafCacheCapacity)
	if err != nil {
		return trace.Wrap(err)
	}

	hosts := hostsctl.New(cfg.HostsFile, cfg.PlatformHost)

	newProxy := func(gatewayURL string) (*interceptor.Proxy, error) {
		if gatewayURL == "" {
			gatewayURL = cfg.DefaultGatewayURL
		}
		mode := interceptor.ModePassthrough
		if gatewayURL != "" {
			mode = interceptor.ModeGateway
		}
		return interceptor.New(interceptor.Config{
			ListenAddr:   cfg.ListenAddr,
			PlatformHost: cfg.PlatformHost,
			BypassDNS:    cfg.BypassDNS,
			GatewayURL:   gatewayURL,
			Mode:         mode,
			LeafCache:    leafCache,
			Log:          log.WithField("component", "interceptor-proxy"),
		})
	}

	ctrl := interceptor.NewController(hosts, newProxy, log.WithField("component", "interceptor-controller"))
	control := interceptor.NewControlServer(cfg.ControlAddr, ctrl)

	errCh := make(chan error, 1)
	go func() { errCh <- control.Run() }()
	log.WithField("addr", cfg.ControlAddr).Info("interceptor control server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return trace.Wrap(err)
	case <-sigCh:
		log.Info("received shutdown signal, stopping proxy")
		ctrl.Stop()
		return nil
	}
}
