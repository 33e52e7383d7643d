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

package interceptor

import (
	"context"
	"sync"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/gravitational-labs/aegisgate/internal/hostsctl"
)

// Status is the result of the IPC-level "status" operation.
type Status struct {
	HostsModified bool
	ProxyRunning  bool
}

// Controller exposes exactly the five lifecycle operations the host UI is
// allowed to drive: initialize, run,
// stop, restore, status. It owns the hosts-file helper and the running
// Proxy, but never mutates the hosts file itself outside of hostsctl.
type Controller struct {
	hosts *hostsctl.Controller
	newProxy func(gatewayURL string) (*Proxy, error)
	log   logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	proxy  *Proxy
	done   chan struct{}
}

// NewController wires a Controller. newProxy is a factory so the gateway
// URL supplied to Run can vary between invocations without rebuilding the
// hosts controller.
func NewController(hosts *hostsctl.Controller, newProxy func(gatewayURL string) (*Proxy, error), log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{hosts: hosts, newProxy: newProxy, log: log}
}

// Initialize modifies the hosts file to redirect the Platform host to
// loopback. Idempotent.
func (c *Controller) Initialize() error {
	return trace.Wrap(c.hosts.Add())
}

// Run starts the proxy child against gatewayURl, replacing any existing
// one. Initialize must have been called first for interception to take
// effect, but Run does not enforce ordering — that policy lives in the
// host UI.
func (c *Controller) Run(gatewayURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		<-c.done
	}

	proxy, err := c.newProxy(gatewayURL)
	if err != nil {
		return trace.Wrap(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.proxy = proxy
	c.done = done

	go func() {
		defer close(done)
		if err := proxy.Run(ctx); err != nil {
			c.log.WithError(err).Warn("interception proxy exited")
		}
	}()
	return nil
}

// Stop terminates the running proxy child, if any.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.proxy = nil
	c.done = nil
}

// Restore stops the proxy and reverts the hosts-file modification.
func (c *Controller) Restore() error {
	c.Stop()
	return trace.Wrap(c.hosts.Remove())
}

// StatusOf reports whether the hosts file carries this controller's
// marker and whether the proxy child is currently running.
func (c *Controller) StatusOf() (Status, error) {
	present, err := c.hosts.Present()
	if err != nil {
		return Status{}, trace.Wrap(err)
	}
	c.mu.Lock()
	running := c.cancel != nil
	c.mu.Unlock()
	return Status{HostsModified: present, ProxyRunning: running}, nil
}
