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

package adapter

import (
	"bytes"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gravitational-labs/aegisgate/internal/wire"
)

// knownModels is scanned, longest match first, against a raw response body
// to recover the model name for session credit-cost accounting when the
// response itself doesn't echo a structured field the gateway parses.
var knownModels = []string{
	"claude-opus-4-1", "claude-opus-4", "claude-sonnet-4-5", "claude-sonnet-4",
	"claude-3-5-sonnet-20241022", "claude-3-5-sonnet",
	"gpt-5-high", "gpt-5-low", "gpt-5",
	"gpt-4o-mini", "gpt-4o", "gpt-4",
	"gemini-2.5-pro", "gemini-2.5-flash",
	"deepseek-reasoner", "deepseek-chat",
	"kimi-k2", "qwen3-coder", "swe-1",
}

// PlatformAdapter implements Adapter for the upstream AI coding-assistant
// service this gateway impersonates and forwards to.
type PlatformAdapter struct {
	Host        string // canonical Platform host, e.g. defaults.PlatformHost
	BaseURL     string // scheme://host root to forward /exa.* paths to
	ContentType string // content-type the Platform accepts, e.g. application/grpc
}

// ID returns Host: sessions served through this adapter carry the Platform
// host as their Session.Platform tag.
func (p *PlatformAdapter) ID() string { return p.Host }

func (p *PlatformAdapter) UpstreamURL(path string) string {
	return strings.TrimRight(p.BaseURL, "/") + path
}

// RewriteHeaders implements the Platform's wire contract: host set to the
// canonical Platform host, content-type normalised from
// application/connect+proto to application/grpc, and authorization set to
// Bearer <jwt> if present, else Bearer <apiKey>.
func (p *PlatformAdapter) RewriteHeaders(req *http.Request, apiKey, jwt string) {
	req.Host = p.Host
	req.Header.Set("host", p.Host)

	if req.Header.Get("content-type") == "application/connect+proto" {
		req.Header.Set("content-type", p.ContentType)
	}

	token := apiKey
	if jwt != "" {
		token = jwt
	}
	req.Header.Set("authorization", "Bearer "+token)
}

// KeepaliveRequest builds a minimal envelope carrying only the credential
// submessage, used as a liveness ping. The exact Platform ping RPC schema
// beyond the credential fields is unknown; only the fields this gateway
// already knows how to address are populated.
func (p *PlatformAdapter) KeepaliveRequest(apiKey, jwt string) ([]byte, string, error) {
	return pingEnvelope(apiKey, jwt), p.ContentType, nil
}

// HealthCheckRequest builds the same minimal probe as KeepaliveRequest;
// the two are distinguished by the interval they run on,
// not by payload shape, since no additional Platform-specific probe
// fields are documented.
func (p *PlatformAdapter) HealthCheckRequest(apiKey, jwt string) ([]byte, string, error) {
	return pingEnvelope(apiKey, jwt), p.ContentType, nil
}

func pingEnvelope(apiKey, jwt string) []byte {
	var inner []byte
	inner = wire.AppendString(inner, 3, apiKey)
	if jwt != "" {
		inner = wire.AppendString(inner, 21, jwt)
	}
	var outer []byte
	outer = wire.AppendLengthDelimited(outer, 1, inner)
	return wire.Encode(wire.FlagUncompressed, outer)
}

// ExtractModel scans respBody for any of knownModels, longest match first
// so e.g. "gpt-4o-mini" isn't mistaken for "gpt-4o" at the wrong cost tier
// later on.
func (p *PlatformAdapter) ExtractModel(respBody []byte) (string, bool) {
	lower := bytes.ToLower(respBody)
	best := ""
	for _, m := range knownModels {
		if bytes.Contains(lower, []byte(strings.ToLower(m))) && len(m) > len(best) {
			best = m
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// Field numbers for the chat-completion request/response envelope this
// adapter builds. Field 1 (ClientMetadata) matches the submessage
// internal/splice rewrites in raw passthrough; the rest are this
// adapter's own encoding, since the Platform's real schema is not
// declared anywhere in this codebase.
const (
	chatFieldMetadata = 1
	chatFieldModel    = 2
	chatFieldMessages = 4
	chatMsgFieldRole  = 1
	chatMsgFieldText  = 2
)

// ToPlatform builds a chat-completion request envelope: a ClientMetadata
// submessage carrying apiKey/jwt (the same shape splice.Splice rewrites
// in place for raw passthrough), the requested model, and one
// length-delimited submessage per message with a role and text field.
func (p *PlatformAdapter) ToPlatform(apiKey, jwt, model string, messages []ChatMessage) ([]byte, string, error) {
	var metadata []byte
	metadata = wire.AppendString(metadata, 3, apiKey)
	if jwt != "" {
		metadata = wire.AppendString(metadata, 21, jwt)
	}

	var outer []byte
	outer = wire.AppendLengthDelimited(outer, chatFieldMetadata, metadata)
	outer = wire.AppendString(outer, chatFieldModel, model)
	for _, m := range messages {
		var msg []byte
		msg = wire.AppendString(msg, chatMsgFieldRole, m.Role)
		msg = wire.AppendString(msg, chatMsgFieldText, m.Content)
		outer = wire.AppendLengthDelimited(outer, chatFieldMessages, msg)
	}

	return wire.Encode(wire.FlagUncompressed, outer), p.ContentType, nil
}

// FromPlatform extracts the assistant's reply text from a raw response.
// The response may itself be one length-prefixed envelope (unwrapped and
// ungzipped the same way splice.Splice reads a request), or bare
// protobuf. With no declared schema to decode against, it then falls
// back to the longest valid-UTF8 LEN field among the top-level fields,
// on the assumption the reply text is the single largest string payload
// the Platform returns for a chat-completion RPC.
func (p *PlatformAdapter) FromPlatform(respBody []byte) (string, error) {
	payload := respBody
	if envs := wire.DecodeStream(respBody); len(envs) > 0 {
		payload = envs[0].Data
		if envs[0].IsCompressed {
			if decompressed, err := wire.Gunzip(payload); err == nil {
				payload = decompressed
			}
		}
	}

	best := ""
	for _, f := range wire.RawDecode(payload) {
		if f.WireType != wire.WireLEN || !utf8.Valid(f.Data) {
			continue
		}
		if len(f.Data) > len(best) {
			best = string(f.Data)
		}
	}
	return best, nil
}
