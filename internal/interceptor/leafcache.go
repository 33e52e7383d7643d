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
	"crypto/tls"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/gravitational/trace"
)

// LeafCache is the keyed lazy map described in: "first caller
// mints, subsequent callers wait; entries never expire within process
// lifetime." Built on hashicorp/golang-lru so the in-memory footprint
// stays bounded even against an attacker probing many distinct SNIs,
// while the common case (a handful of real upstream hosts) never evicts.
type LeafCache struct {
	ca *CA

	mu      sync.Mutex
	inflight map[string]*mintCall
	cache    *lru.Cache
}

type mintCall struct {
	done chan struct{}
	cert tls.Certificate
	err  error
}

// NewLeafCache builds a cache bounded to capacity distinct SNIs.
func NewLeafCache(ca *CA, capacity int) (*LeafCache, error) {
	c, err := lru.New(capacity)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &LeafCache{ca: ca, inflight: map[string]*mintCall{}, cache: c}, nil
}

// Get returns the cached leaf tls.Certificate for sni, minting it if this
// is the first request for that name. Concurrent callers for the same sni
// block on the same mint rather than minting redundantly.
func (lc *LeafCache) Get(sni string) (tls.Certificate, error) {
	if v, ok := lc.cache.Get(sni); ok {
		return v.(tls.Certificate), nil
	}

	lc.mu.Lock()
	if v, ok := lc.cache.Get(sni); ok {
		lc.mu.Unlock()
		return v.(tls.Certificate), nil
	}
	if call, ok := lc.inflight[sni]; ok {
		lc.mu.Unlock()
		<-call.done
		return call.cert, call.err
	}

	call := &mintCall{done: make(chan struct{})}
	lc.inflight[sni] = call
	lc.mu.Unlock()

	certDER, keyDER, err := lc.ca.MintLeaf(sni)
	if err != nil {
		call.err = trace.Wrap(err)
	} else {
		cert, tlsErr := tls.X509KeyPair(pemEncodeCert(certDER), pemEncodeKey(keyDER))
		if tlsErr != nil {
			call.err = trace.Wrap(tlsErr)
		} else {
			call.cert = cert
			lc.cache.Add(sni, cert)
		}
	}

	lc.mu.Lock()
	delete(lc.inflight, sni)
	lc.mu.Unlock()
	close(call.done)

	return call.cert, call.err
}
