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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational-labs/aegisgate/internal/account"
	"github.com/gravitational-labs/aegisgate/internal/adapter"
	"github.com/gravitational-labs/aegisgate/internal/session"
	"github.com/gravitational-labs/aegisgate/internal/telemetry"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type labMeta struct {
	SessionID string   `json:"sessionId,omitempty"`
	Mode      string   `json:"mode"`
	Tags      []string `json:"tags,omitempty"`
}

// handleChatCompletions implements the OpenAI-shaped completion endpoint:
// authenticate, rate limit and deduct credits, pick an account from the
// upstream or platform pool, and either forward to an OpenAI-compatible
// upstream, relay through the Platform adapter, or - when neither is
// configured - synthesise a deterministic completion.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, trace.AccessDenied("unauthorized"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.deps.MaxJSONBodyBytes))
	if err != nil {
		writeError(w, trace.BadParameter("reading request body: %v", err))
		return
	}

	var req chatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, trace.BadParameter("invalid JSON body: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, trace.BadParameter("messages_required"))
		return
	}

	user, cost, err := s.deps.Engine.Admit(token, req.Model)
	if err != nil {
		writeError(w, err)
		return
	}

	mode := telemetry.ModeSimulate

	switch acc, ok := s.pickAccount(req.Model); {
	case ok:
		mode = telemetry.ModeUpstream
		if req.Stream {
			mode = telemetry.ModeUpstreamStream
		}
		s.relayAccountChat(w, r, acc, req, string(mode))
	default:
		sess, pickErr := s.pickSession(r)
		switch {
		case pickErr == nil:
			mode = telemetry.ModePlatform
			if req.Stream {
				mode = telemetry.ModePlatformStream
			}
			s.relayPlatformChat(w, r, sess, req, string(mode))
		case s.deps.SimulateMode:
			s.simulateChat(w, req, string(mode))
		default:
			writeError(w, trace.ConnectionProblem(pickErr, "no_available_account"))
		}
	}

	if s.deps.Events != nil {
		s.deps.Events.Append(telemetry.EventRecord{
			Timestamp: s.deps.Clock.Now(),
			Method:    r.Method,
			Path:      r.URL.Path,
			IP:        telemetry.ClientIPFromRemoteAddr(r.RemoteAddr),
			TokenHash: telemetry.TokenHash(token),
			UserName:  user.DisplayName,
			Model:     req.Model,
			CreditCost: cost,
			Mode:      mode,
		})
	}
}

// pickAccount selects a candidate from the local upstream pool, tried ahead
// of the platform session pool per the gateway's account-first ordering: a
// configured OpenAI-compatible account is cheaper to serve from than a
// harvested platform session.
func (s *Server) pickAccount(model string) (account.Account, bool) {
	if s.deps.Accounts == nil {
		return account.Account{}, false
	}
	return s.deps.Accounts.Pick(model)
}

// relayAccountChat re-encodes a chat request's model, messages and stream
// fields as JSON and forwards them to an OpenAI-compatible account's own
// /chat/completions endpoint, using the same oxy forwarder
// handlePlatformPassthrough uses so SSE chunks stream through incrementally
// rather than buffering a whole response before replying.
func (s *Server) relayAccountChat(w http.ResponseWriter, r *http.Request, acc account.Account, req chatCompletionRequest, _ string) {
	body, err := json.Marshal(req)
	if err != nil {
		writeError(w, trace.Wrap(err))
		return
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		strings.TrimRight(acc.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		writeError(w, trace.Wrap(err))
		return
	}
	upstreamReq.Header.Set("content-type", "application/json")
	if acc.APIKey != "" {
		upstreamReq.Header.Set("authorization", "Bearer "+acc.APIKey)
	}
	upstreamReq.ContentLength = int64(len(body))

	capture := &bodyCapture{ResponseWriter: w}
	s.forwarder.ServeHTTP(capture, upstreamReq)

	_ = s.deps.Accounts.RecordUsage(acc.ID, int64(capture.buf.Len()))
}

// relayPlatformChat forwards a chat request through a harvested Platform
// session: translate the OpenAI-shaped request to the Platform's wire
// envelope via adapter.ToPlatform (splicing the session's credentials in
// exactly the way handlePlatformPassthrough does for raw RPCs), issue the
// real upstream call, and translate the response back via
// adapter.FromPlatform. A failed upstream call surfaces as an error
// rather than silently degrading to a synthesised reply, so a 200 here
// always reflects a real platform round trip.
func (s *Server) relayPlatformChat(w http.ResponseWriter, r *http.Request, sess session.Session, req chatCompletionRequest, mode string) {
	adp, err := s.deps.Adapters.Get(sess.Platform)
	if err != nil {
		writeError(w, err)
		return
	}

	content, respBody, err := s.callPlatformChat(r, adp, sess, req)
	if err != nil {
		writeError(w, trace.ConnectionProblem(err, "relaying chat completion to platform"))
		return
	}

	s.accountPassthrough(sess.ID, adp, respBody)

	if req.Stream {
		s.streamCompletion(w, req.Model, content, mode, sess.ID)
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(completionBody(req.Model, content, mode, sess.ID)))
}

// callPlatformChat builds the platform request via the adapter, forwards
// it with the session's credentials, and extracts the reply text from
// the real response.
func (s *Server) callPlatformChat(r *http.Request, adp adapter.Adapter, sess session.Session, req chatCompletionRequest) (content string, respBody []byte, err error) {
	messages := make([]adapter.ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = adapter.ChatMessage{Role: m.Role, Content: m.Content}
	}

	body, contentType, err := adp.ToPlatform(sess.Creds.APIKey, sess.Creds.JWT, req.Model, messages)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		adp.UpstreamURL("/exa.api_server_pb.ApiServerService/GetChatMessage"), bytes.NewReader(body))
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	upstreamReq.Header.Set("content-type", contentType)
	adp.RewriteHeaders(upstreamReq, sess.Creds.APIKey, sess.Creds.JWT)
	upstreamReq.ContentLength = int64(len(body))

	resp, err := s.httpClient().Do(upstreamReq)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, trace.Wrap(err, "reading platform response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, trace.Errorf("platform returned status %d", resp.StatusCode)
	}

	content, err = adp.FromPlatform(respBody)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	return content, respBody, nil
}

// simulateChat returns a deterministic completion without any real account
// involved.
func (s *Server) simulateChat(w http.ResponseWriter, req chatCompletionRequest, mode string) {
	last := ""
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}
	content := fmt.Sprintf("simulated response to: %s", truncateUpstreamMessage(last))

	if req.Stream {
		s.streamCompletion(w, req.Model, content, string(telemetry.ModeSimulate), "")
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(completionBody(req.Model, content, string(telemetry.ModeSimulate), "")))
}

func completionBody(model, content, mode, sessionID string) []byte {
	meta := labMeta{SessionID: sessionID, Mode: mode}
	doc := map[string]interface{}{
		"id":     "chatcmpl-" + mode,
		"object": "chat.completion",
		"model":  model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"message":       chatMessage{Role: "assistant", Content: content},
			"finish_reason": "stop",
		}},
		"lab_meta": meta,
	}
	data, _ := json.Marshal(doc)
	return data
}

// streamCompletion writes content as a one-chunk SSE completion: the
// adapter has no incremental streaming contract for the Platform, so a
// real or simulated reply is always emitted as a single delta followed by
// [DONE], matching the shape of a real streamed upstream's final chunk.
func (s *Server) streamCompletion(w http.ResponseWriter, model, content, mode, sessionID string) {
	flusher, ok := w.(http.Flusher)
	w.Header().Set("content-type", "text/event-stream")
	w.Header().Set("cache-control", "no-cache")
	w.WriteHeader(http.StatusOK)

	chunk := map[string]interface{}{
		"id":     "chatcmpl-" + mode,
		"object": "chat.completion.chunk",
		"model":  model,
		"choices": []map[string]interface{}{{
			"index": 0,
			"delta": chatMessage{Role: "assistant", Content: content},
		}},
		"lab_meta": labMeta{SessionID: sessionID, Mode: mode},
	}
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
	if ok {
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	if ok {
		flusher.Flush()
	}
}

