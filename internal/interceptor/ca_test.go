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
	"crypto/x509"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateCAGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "ca.crt")
	keyPath := filepath.Join(dir, "ca.key")

	ca1, err := LoadOrCreateCA(certPath, keyPath)
	require.NoError(t, err)
	require.True(t, ca1.cert.IsCA)

	ca2, err := LoadOrCreateCA(certPath, keyPath)
	require.NoError(t, err)
	require.Equal(t, ca1.cert.SerialNumber, ca2.cert.SerialNumber)
}

func TestMintLeafSignedByCA(t *testing.T) {
	dir := t.TempDir()
	ca, err := LoadOrCreateCA(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"))
	require.NoError(t, err)

	certDER, _, err := ca.MintLeaf("server.codeium.com")
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)
	require.Equal(t, []string{"server.codeium.com"}, leaf.DNSNames)

	pool := x509.NewCertPool()
	pool.AddCert(ca.cert)
	_, err = leaf.Verify(x509.VerifyOptions{DNSName: "server.codeium.com", Roots: pool})
	require.NoError(t, err)
}

func TestLeafCacheReturnsSameCertOnRepeatedLookups(t *testing.T) {
	dir := t.TempDir()
	ca, err := LoadOrCreateCA(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"))
	require.NoError(t, err)
	lc, err := NewLeafCache(ca, 128)
	require.NoError(t, err)

	first, err := lc.Get("server.codeium.com")
	require.NoError(t, err)
	second, err := lc.Get("server.codeium.com")
	require.NoError(t, err)
	require.Equal(t, first.Certificate, second.Certificate)
}

func TestLeafCacheConcurrentLookupsMintOnce(t *testing.T) {
	dir := t.TempDir()
	ca, err := LoadOrCreateCA(filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key"))
	require.NoError(t, err)
	lc, err := NewLeafCache(ca, 128)
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	results := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cert, err := lc.Get("server.codeium.com")
			require.NoError(t, err)
			results[i] = cert.Certificate[0]
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Equal(t, results[0], results[i], "all callers should observe the same minted leaf")
	}
}
