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
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
)

func newBufReader(r io.Reader) *bufio.Reader {
	return bufio.NewReader(r)
}

// Mode selects how an intercepted connection's bytes are handled once the
// TLS handshake with the client has completed.
type Mode string

const (
	// ModePassthrough opens a real connection to the Platform via a
	// bypass resolver and splices bytes bidirectionally; used for
	// capture.
	ModePassthrough Mode = "passthrough"
	// ModeGateway parses the call as an RPC and re-issues it as an HTTPS
	// request to the configured gateway.
	ModeGateway Mode = "gateway"
)

// Resolver looks up the real IP for host, bypassing any hosts-file
// redirection this same process may have installed.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// dnsResolver queries a fixed upstream DNS server directly.
type dnsResolver struct {
	resolver *net.Resolver
}

// NewBypassResolver builds a Resolver that queries dnsServer:53 directly
// instead of the OS stub resolver, which would see the locally-modified
// hosts file.
func NewBypassResolver(dnsServer string) Resolver {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			d := net.Dialer{Timeout: 5 * time.Second}
			return d.DialContext(ctx, network, net.JoinHostPort(dnsServer, "53"))
		},
	}
	return &dnsResolver{resolver: r}
}

func (r *dnsResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return r.resolver.LookupHost(ctx, host)
}

// Config wires the interceptor's dependencies.
type Config struct {
	ListenAddr   string
	PlatformHost string
	BypassDNS    string
	GatewayURL   string
	Mode         Mode
	LeafCache    *LeafCache
	Log          logrus.FieldLogger
}

// Proxy is the long-lived TLS server accepting any SNI on the
// client host.
type Proxy struct {
	cfg      Config
	resolver Resolver
	client   *http.Client

	mu       sync.Mutex
	listener net.Listener
	stopped  chan struct{}
}

// New constructs a Proxy from cfg, applying defaults.
func New(cfg Config) (*Proxy, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":443"
	}
	if cfg.BypassDNS == "" {
		cfg.BypassDNS = "8.8.8.8"
	}
	if cfg.Mode == "" {
		cfg.Mode = ModePassthrough
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.LeafCache == nil {
		return nil, trace.BadParameter("missing parameter LeafCache")
	}
	return &Proxy{
		cfg:      cfg,
		resolver: NewBypassResolver(cfg.BypassDNS),
		client:   &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Run starts accepting connections and blocks until ctx is cancelled or a
// fatal listener error occurs.
func (p *Proxy) Run(ctx context.Context) error {
	tlsCfg := &tls.Config{
		// Offer h2 in ALPN, the same pair lib/multiplexer's TLS listener
		// negotiates, so a real IDE client that prefers HTTP/2 completes its
		// handshake normally instead of falling back or failing outright;
		// handleConn inspects NegotiatedProtocol to route accordingly.
		NextProtos: []string{http2.NextProtoTLS, "http/1.1"},
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			sni := hello.ServerName
			if sni == "" {
				sni = p.cfg.PlatformHost
			}
			cert, err := p.cfg.LeafCache.Get(sni)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			return &cert, nil
		},
	}

	ln, err := tls.Listen("tcp", p.cfg.ListenAddr, tlsCfg)
	if err != nil {
		return trace.Wrap(err)
	}
	p.mu.Lock()
	p.listener = ln
	p.stopped = make(chan struct{})
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				close(p.stopped)
				return nil
			default:
				return trace.Wrap(err)
			}
		}
		go p.handleConn(ctx, conn)
	}
}

// Stop closes the listener, unblocking Run.
func (p *Proxy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener != nil {
		p.listener.Close()
	}
}

// handleConn dispatches an accepted connection once ALPN negotiation has
// settled. A client that negotiated HTTP/2 is routed straight to splicing:
// handleGateway's http.ReadRequest only understands HTTP/1.1 framing and
// would misparse h2's binary frame layer, mirroring the way
// lib/multiplexer's TLS listener branches on NegotiatedProtocol before
// choosing a connection handler.
func (p *Proxy) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			p.cfg.Log.WithError(err).Debug("TLS handshake failed")
			return
		}
		if tlsConn.ConnectionState().NegotiatedProtocol == http2.NextProtoTLS {
			p.cfg.Log.Debug("client negotiated HTTP/2, splicing instead of parsing RPC framing")
			p.handlePassthrough(ctx, conn)
			return
		}
	}

	switch p.cfg.Mode {
	case ModeGateway:
		p.handleGateway(ctx, conn)
	default:
		p.handlePassthrough(ctx, conn)
	}
}

// handlePassthrough resolves the real Platform host via the bypass
// resolver and splices bytes bidirectionally.
func (p *Proxy) handlePassthrough(ctx context.Context, clientConn net.Conn) {
	addrs, err := p.resolver.LookupHost(ctx, p.cfg.PlatformHost)
	if err != nil || len(addrs) == 0 {
		p.cfg.Log.WithError(err).Warn("bypass resolution failed")
		return
	}

	upstreamConn, err := tls.Dial("tcp", net.JoinHostPort(addrs[0], "443"), &tls.Config{ServerName: p.cfg.PlatformHost})
	if err != nil {
		p.cfg.Log.WithError(err).Warn("upstream dial failed in passthrough mode")
		return
	}
	defer upstreamConn.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(upstreamConn, clientConn) }()
	go func() { defer wg.Done(); io.Copy(clientConn, upstreamConn) }()
	wg.Wait()
}

// handleGateway reads one HTTP request off the intercepted connection and
// re-issues it against the configured gateway's /exa.* passthrough route.
func (p *Proxy) handleGateway(ctx context.Context, clientConn net.Conn) {
	req, err := http.ReadRequest(newBufReader(clientConn))
	if err != nil {
		p.cfg.Log.WithError(err).Debug("failed reading intercepted request")
		return
	}
	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return
	}

	gwReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.GatewayURL+req.URL.Path, bytes.NewReader(body))
	if err != nil {
		return
	}
	gwReq.Header = req.Header.Clone()

	resp, err := p.client.Do(gwReq)
	if err != nil {
		p.cfg.Log.WithError(err).Warn("gateway forward failed")
		writeErrorResponse(clientConn)
		return
	}
	defer resp.Body.Close()

	resp.Header.Del("transfer-encoding")
	if err := resp.Write(clientConn); err != nil {
		p.cfg.Log.WithError(err).Debug("failed writing response to intercepted connection")
	}
}

func writeErrorResponse(w io.Writer) {
	resp := &http.Response{
		StatusCode: http.StatusBadGateway,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Body:       io.NopCloser(bytes.NewReader(nil)),
		Header:     http.Header{},
	}
	resp.Write(w)
}
