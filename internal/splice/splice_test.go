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

package splice

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational-labs/aegisgate/internal/wire"
)

func buildOuter(apiKey, jwt, model string) []byte {
	var inner []byte
	inner = wire.AppendString(inner, apiKeyField, apiKey)
	inner = wire.AppendString(inner, 16, "device-id-123")
	if jwt != "" {
		inner = wire.AppendString(inner, jwtField, jwt)
	}

	var outer []byte
	outer = wire.AppendLengthDelimited(outer, clientMetadataField, inner)
	outer = wire.AppendString(outer, 8, model)
	outer = wire.AppendString(outer, 20, "extra-untouched-field")
	return outer
}

func clientMetadata(t *testing.T, out []byte) wire.FieldMap {
	t.Helper()
	outer := wire.RawDecode(out)
	f1, ok := wire.FindFirst(outer, clientMetadataField)
	require.True(t, ok)
	return wire.FieldMapDecode(f1.Data)
}

func TestSpliceReplacesAPIKeyAndJWT(t *testing.T) {
	orig := buildOuter("old-key", "old-jwt", "claude-3-5-sonnet-20241022")
	out := Splice(orig, Credentials{APIKey: "new-key", JWT: "new-jwt"})

	inner := clientMetadata(t, out)
	require.Equal(t, "new-key", string(inner[apiKeyField][0].Bytes))
	require.Equal(t, "new-jwt", string(inner[jwtField][0].Bytes))

	// Other outer fields preserved.
	outerFields := wire.RawDecode(out)
	f8, ok := wire.FindFirst(outerFields, 8)
	require.True(t, ok)
	require.Equal(t, "claude-3-5-sonnet-20241022", string(f8.Data))
	f20, ok := wire.FindFirst(outerFields, 20)
	require.True(t, ok)
	require.Equal(t, "extra-untouched-field", string(f20.Data))
}

func TestSpliceOmitsJWTWhenNil(t *testing.T) {
	orig := buildOuter("old-key", "old-jwt", "gpt-4o")
	out := Splice(orig, Credentials{APIKey: "new-key"})

	inner := clientMetadata(t, out)
	require.Equal(t, "new-key", string(inner[apiKeyField][0].Bytes))
	_, hasJWT := inner[jwtField]
	require.False(t, hasJWT, "jwt field must be omitted entirely, not emitted empty")
}

func TestSpliceInjectsJWTWhenAbsentOriginally(t *testing.T) {
	orig := buildOuter("old-key", "", "gpt-4o")
	out := Splice(orig, Credentials{APIKey: "new-key", JWT: "fresh-jwt"})

	inner := clientMetadata(t, out)
	require.Equal(t, "fresh-jwt", string(inner[jwtField][0].Bytes))
}

func TestSpliceNoClientMetadataInjectsAtHead(t *testing.T) {
	var outer []byte
	outer = wire.AppendString(outer, 8, "gpt-4o")

	out := Splice(outer, Credentials{APIKey: "new-key"})
	inner := clientMetadata(t, out)
	require.Equal(t, "new-key", string(inner[apiKeyField][0].Bytes))
	require.Len(t, inner, 1, "submessage must contain exactly one field: api_key")

	outerFields := wire.RawDecode(out)
	f8, ok := wire.FindFirst(outerFields, 8)
	require.True(t, ok)
	require.Equal(t, "gpt-4o", string(f8.Data))
}

func TestSpliceEnvelopedRoundTrip(t *testing.T) {
	payload := buildOuter("old-key", "old-jwt", "gpt-4o")
	env := wire.Encode(wire.FlagUncompressed, payload)

	out := Splice(env, Credentials{APIKey: "new-key", JWT: "new-jwt"})
	envs := wire.DecodeStream(out)
	require.Len(t, envs, 1)

	inner := clientMetadata(t, envs[0].Data)
	require.Equal(t, "new-key", string(inner[apiKeyField][0].Bytes))
	require.Equal(t, "new-jwt", string(inner[jwtField][0].Bytes))
}

func TestSpliceCompressedEnvelopePreservesCompressedFlag(t *testing.T) {
	payload := buildOuter("old-key", "old-jwt", "gpt-4o")
	gz, err := wire.Gzip(payload)
	require.NoError(t, err)
	env := wire.Encode(wire.FlagCompressed, gz)

	out := Splice(env, Credentials{APIKey: "new-key", JWT: "new-jwt"})
	envs := wire.DecodeStream(out)
	require.Len(t, envs, 1)
	require.True(t, envs[0].IsCompressed)

	decompressed, err := wire.Gunzip(envs[0].Data)
	require.NoError(t, err)
	inner := clientMetadata(t, decompressed)
	require.Equal(t, "new-key", string(inner[apiKeyField][0].Bytes))
}

func TestSpliceMalformedBufferReturnedUnchanged(t *testing.T) {
	buf := []byte{0x01}
	out := Splice(buf, Credentials{APIKey: "x"})
	require.Equal(t, buf, out)
}
