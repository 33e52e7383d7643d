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

// Package splice rewrites the API key and JWT carried inside a Platform RPC
// envelope's ClientMetadata submessage, leaving every other byte of the
// request untouched.
package splice

import (
	"github.com/gravitational/trace"

	"github.com/gravitational-labs/aegisgate/internal/wire"
)

// clientMetadataField is the outer field number carrying ClientMetadata.
const clientMetadataField = 1

// apiKeyField and jwtField are ClientMetadata's inner field numbers.
const (
	apiKeyField = 3
	jwtField    = 21
)

// Credentials is the new (api_key, jwt) pair to embed in an outbound
// request. JWT is optional; when empty, field 21 is omitted entirely even
// if the original request carried one.
type Credentials struct {
	APIKey string
	JWT    string
}

// Splice rewrites buf's embedded credentials. On any malformed input it
// returns the original buffer unchanged — the caller proceeds and the
// upstream rejects the request instead of the gateway failing closed on
// a parse error.
func Splice(buf []byte, creds Credentials) []byte {
	if len(buf) < 2 {
		return buf
	}

	if looksLikeEnvelope(buf) {
		return spliceEnvelope(buf, creds)
	}
	return spliceRawProtobuf(buf, creds)
}

// looksLikeEnvelope detects the 5-byte outer header: first byte is a known
// flag combination and the declared length matches what follows.
func looksLikeEnvelope(buf []byte) bool {
	if len(buf) < 5 {
		return false
	}
	flags := buf[0]
	if flags&^(wire.FlagCompressed|wire.FlagEndOfStream) != 0 {
		return false
	}
	envs := wire.DecodeStream(buf)
	return len(envs) > 0
}

func spliceEnvelope(buf []byte, creds Credentials) []byte {
	envs := wire.DecodeStream(buf)
	if len(envs) == 0 {
		return buf
	}
	env := envs[0]

	payload := env.Data
	if env.IsCompressed {
		decompressed, err := wire.Gunzip(payload)
		if err != nil {
			return buf
		}
		payload = decompressed
	}

	rewritten, err := rewriteOuterMessage(payload, creds)
	if err != nil {
		return buf
	}

	outPayload := rewritten
	flags := env.Flags
	if env.IsCompressed {
		gz, err := wire.Gzip(rewritten)
		if err != nil {
			// Re-compression failed: fall back to the untouched original
			// buffer rather than ship an uncompressed body under a
			// compressed flag.
			return buf
		}
		outPayload = gz
	}
	// Frames after the first are carried over byte-for-byte.
	return append(wire.Encode(flags, outPayload), buf[5+len(env.Data):]...)
}

func spliceRawProtobuf(buf []byte, creds Credentials) []byte {
	rewritten, err := rewriteOuterMessage(buf, creds)
	if err != nil {
		return buf
	}
	return rewritten
}

// rewriteOuterMessage locates the first field-1 (ClientMetadata) submessage,
// rewrites its api_key/jwt fields, and re-serialises the outer message by
// concatenating the rewritten field 1 with every other outer field's
// original raw bytes, in original order.
func rewriteOuterMessage(buf []byte, creds Credentials) ([]byte, error) {
	outerFields := wire.RawDecode(buf)
	consumed := 0
	for _, f := range outerFields {
		consumed += len(f.RawBytes)
	}
	if consumed != len(buf) {
		return nil, trace.BadParameter("malformed protobuf message")
	}

	var out []byte
	spliced := false
	for _, f := range outerFields {
		if f.Number == clientMetadataField && f.WireType == wire.WireLEN && !spliced {
			newInner, err := rewriteClientMetadata(f.Data, creds)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			out = wire.AppendLengthDelimited(out, clientMetadataField, newInner)
			spliced = true
			continue
		}
		out = append(out, f.RawBytes...)
	}

	if !spliced {
		// No field 1 at all: inject a fresh ClientMetadata at the head
		// containing exactly the new api_key.
		newInner := wire.AppendString(nil, apiKeyField, creds.APIKey)
		head := wire.AppendLengthDelimited(nil, clientMetadataField, newInner)
		out = append(head, out...)
	}
	return out, nil
}

// rewriteClientMetadata replaces field 3 (api_key) and field 21 (jwt) inside
// a ClientMetadata submessage, splicing all other fields back verbatim by
// their original raw spans, in original order. If the original submessage
// had no field 3, the new one is injected at the head.
func rewriteClientMetadata(buf []byte, creds Credentials) ([]byte, error) {
	fields := wire.RawDecode(buf)
	consumed := 0
	for _, f := range fields {
		consumed += len(f.RawBytes)
	}
	if consumed != len(buf) {
		return nil, trace.BadParameter("malformed ClientMetadata submessage")
	}

	var out []byte
	sawAPIKey, sawJWT := false, false
	for _, f := range fields {
		switch f.Number {
		case apiKeyField:
			out = wire.AppendString(out, apiKeyField, creds.APIKey)
			sawAPIKey = true
		case jwtField:
			if creds.JWT != "" {
				out = wire.AppendString(out, jwtField, creds.JWT)
			}
			// else: omit entirely, even though the original had one.
			sawJWT = true
		default:
			out = append(out, f.RawBytes...)
		}
	}

	if !sawAPIKey {
		head := wire.AppendString(nil, apiKeyField, creds.APIKey)
		out = append(head, out...)
	}
	if !sawJWT && creds.JWT != "" {
		out = wire.AppendString(out, jwtField, creds.JWT)
	}
	return out, nil
}
