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

package config

import (
	"github.com/gravitational/trace"
	"github.com/kelseyhightower/envconfig"
)

// Interceptor holds the client-host process's environment-derived knobs.
// It is distinct from Gateway: the interceptor runs on the developer's
// machine, not the gateway's host, and answers to a local control server
// rather than serving IDE/chat traffic itself.
type Interceptor struct {
	ControlAddr string `envconfig:"CONTROL_ADDR" default:"127.0.0.1:8088"`

	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":443"`
	PlatformHost string `envconfig:"PLATFORM_HOST" default:"server.codeium.com"`
	BypassDNS    string `envconfig:"BYPASS_DNS" default:"8.8.8.8"`
	DefaultGatewayURL string `envconfig:"GATEWAY_URL"`

	HostsFile string `envconfig:"HOSTS_FILE" default:"/etc/hosts"`

	CACertFile string `envconfig:"CA_CERT_FILE" default:"config/interceptor-ca.pem"`
	CAKeyFile  string `envconfig:"CA_KEY_FILE" default:"config/interceptor-ca.key"`

	LeafCacheCapacity int `envconfig:"LEAF_CACHE_CAPACITY" default:"64"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadInterceptor reads Interceptor from the process environment.
func LoadInterceptor() (*Interceptor, error) {
	var cfg Interceptor
	if err := envconfig.Process("AEGISGATE_INTERCEPTOR", &cfg); err != nil {
		return nil, trace.Wrap(err, "loading interceptor configuration")
	}
	if cfg.LeafCacheCapacity < 1 {
		return nil, trace.BadParameter("LEAF_CACHE_CAPACITY must be at least 1")
	}
	return &cfg, nil
}
