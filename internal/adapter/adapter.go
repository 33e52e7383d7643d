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

// Package adapter is the thin protocol-adapter registry: given a platform id, resolve the codec shape, upstream
// URL, header rewriting rules, and the keepalive/health probe builders.
package adapter

import (
	"net/http"

	"github.com/gravitational/trace"
)

// Adapter describes everything the gateway and interceptor need to know
// about one upstream platform to forward a request and probe a session's
// health, without encoding any of the Platform's own business logic.
type Adapter interface {
	// ID is the platform tag stored on session.Session.Platform.
	ID() string

	// UpstreamURL returns the absolute URL to forward path to for this
	// platform.
	UpstreamURL(path string) string

	// RewriteHeaders mutates req's headers in place to match what the
	// real Platform expects: host, content-type normalisation, and
	// authorization.
	RewriteHeaders(req *http.Request, apiKey, jwt string)

	// KeepaliveRequest builds the periodic liveness-ping request body for
	// a session.
	KeepaliveRequest(apiKey, jwt string) ([]byte, string, error)

	// HealthCheckRequest builds the periodic health-probe request body
	// for a session.
	HealthCheckRequest(apiKey, jwt string) ([]byte, string, error)

	// ExtractModel scans a response body for the model name used, for
	// session credit-cost accounting on chat-message responses.
	ExtractModel(respBody []byte) (model string, ok bool)

	// ToPlatform translates an OpenAI-shaped chat completion request into
	// the wire bytes and content-type to POST to the real platform,
	// splicing apiKey/jwt into the same ClientMetadata submessage the raw
	// /exa.* passthrough uses.
	ToPlatform(apiKey, jwt, model string, messages []ChatMessage) (body []byte, contentType string, err error)

	// FromPlatform extracts the assistant's reply text from a raw
	// platform response body.
	FromPlatform(respBody []byte) (content string, err error)
}

// ChatMessage is the adapter-level view of one OpenAI-shaped chat
// message, kept here rather than imported from gatewayhttp to avoid a
// dependency cycle.
type ChatMessage struct {
	Role    string
	Content string
}

// Registry maps platform ids to their Adapter.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds or replaces the adapter keyed by its ID.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.ID()] = a
}

// Get resolves an adapter by platform id.
func (r *Registry) Get(platform string) (Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, trace.NotFound("no adapter registered for platform %q", platform)
	}
	return a, nil
}

// IDs lists every registered platform id, for the gateway's startup log.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	return out
}
