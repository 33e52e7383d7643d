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

// Package interceptor runs on the client host: a TLS server that accepts
// any SNI, mints leaf certificates off a local CA on demand, and either
// splices bytes to the real Platform (capture mode) or rewrites the call
// into a gateway request (gateway mode).
//
// Leaf minting uses the standard library's crypto/x509 directly rather
// than a CLI-oriented CA toolkit such as cloudflare/cfssl: minting here
// happens inline on the TLS handshake's ClientHello callback, a few
// hundred microseconds per unique SNI, and cfssl's API is built around
// signing requests read from disk/HTTP rather than in-process structs —
// it would add a serialize/deserialize round trip with no benefit to a
// single-process, single-CA leaf minter.
package interceptor

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/gravitational/trace"
)

// CA is the locally persisted root used to mint per-SNI leaf certificates.
type CA struct {
	cert    *x509.Certificate
	certDER []byte
	key     *ecdsa.PrivateKey
}

// LoadOrCreateCA reads a PEM-encoded cert+key pair from certPath/keyPath,
// generating and persisting a fresh self-signed CA if either is missing.
func LoadOrCreateCA(certPath, keyPath string) (*CA, error) {
	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		return decodeCA(certPEM, keyPEM)
	}

	ca, certDER, keyDER, err := generateCA()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := persistPEM(certPath, "CERTIFICATE", certDER); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := persistPEM(keyPath, "EC PRIVATE KEY", keyDER); err != nil {
		return nil, trace.Wrap(err)
	}
	return ca, nil
}

func generateCA() (*CA, []byte, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, nil, trace.Wrap(err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, nil, trace.Wrap(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "aegisgate local interception CA", Organization: []string{"aegisgate"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, nil, trace.Wrap(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, nil, trace.Wrap(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, nil, trace.Wrap(err)
	}
	return &CA{cert: cert, certDER: der, key: key}, der, keyDER, nil
}

func decodeCA(certPEM, keyPEM []byte) (*CA, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, trace.BadParameter("no PEM block found in CA certificate file")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, trace.BadParameter("no PEM block found in CA key file")
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &CA{cert: cert, certDER: certBlock.Bytes, key: key}, nil
}

func persistPEM(path, blockType string, der []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return trace.Wrap(err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return os.WriteFile(path, data, 0o600)
}

// MintLeaf signs a fresh leaf certificate for sni, valid for 72 hours.
func (ca *CA) MintLeaf(sni string) (certDER []byte, keyDER []byte, err error) {
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: sni},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(72 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(sni); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{sni}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &leafKey.PublicKey, ca.key)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	keyDER, err = x509.MarshalECPrivateKey(leafKey)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return der, keyDER, nil
}

// CertPEM returns the CA certificate PEM-encoded, for clients that need to
// trust it explicitly.
func (ca *CA) CertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.certDER})
}

func pemEncodeCert(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func pemEncodeKey(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}
