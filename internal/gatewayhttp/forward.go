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
	"net/http"

	"github.com/gravitational/oxy/forward"
	oxyutils "github.com/gravitational/oxy/utils"
	"github.com/gravitational/trace"
)

// doerRoundTripper adapts the package's httpDoer override point (which
// tests substitute with a scripted double) onto the http.RoundTripper
// oxy's forwarder expects, looking the doer up at call time so a test
// setting Deps.UpstreamClient after the server is constructed still takes
// effect.
type doerRoundTripper struct {
	server *Server
}

func (d doerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return d.server.httpClient().Do(req)
}

// newForwarder builds the oxy reverse-proxy forwarder used for every
// upstream round trip this gateway makes on a client's behalf: the raw
// "/exa.*" Platform passthrough and the local-account branch of
// /v1/chat/completions. It copies the upstream response's status, headers,
// and body (streaming, with incremental flushes) back to the client the
// same way a direct io.Copy would, but without hand-rolling the
// chunked-transfer and SSE-flush bookkeeping oxy already does.
func newForwarder(s *Server) (*forward.Forwarder, error) {
	return forward.New(
		forward.RoundTripper(doerRoundTripper{server: s}),
		forward.PassHostHeader(true),
		forward.ErrorHandler(oxyutils.ErrorHandlerFunc(forwardError)),
	)
}

// forwardError renders a forwarding failure through the gateway's own
// error-response envelope instead of oxy's default plain-text body, so a
// failed upstream round trip looks identical to any other gateway error.
func forwardError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, trace.ConnectionProblem(err, "forwarding to upstream"))
}

// bodyCapture tees everything written through it into buf while still
// writing to the wrapped ResponseWriter, so the caller can run
// post-forward accounting (model extraction, token counting) against the
// exact bytes the client received, including streamed chunks.
type bodyCapture struct {
	http.ResponseWriter
	buf bytes.Buffer
}

func (c *bodyCapture) Write(b []byte) (int, error) {
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *bodyCapture) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
