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

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildClientMetadata(apiKey, jwt string) []byte {
	var msg []byte
	msg = AppendString(msg, 3, apiKey)
	if jwt != "" {
		msg = AppendString(msg, 21, jwt)
	}
	return msg
}

func TestRawDecodeFieldMapRoundTrip(t *testing.T) {
	inner := buildClientMetadata("sk-abc", "jwt-xyz")
	var outer []byte
	outer = AppendLengthDelimited(outer, 1, inner)
	outer = AppendString(outer, 8, "model-x")

	fields := RawDecode(outer)
	require.Len(t, fields, 2)
	require.Equal(t, 1, fields[0].Number)
	require.Equal(t, WireLEN, fields[0].WireType)

	innerFields := RawDecode(fields[0].Data)
	require.Len(t, innerFields, 2)
	f3, ok := FindFirst(innerFields, 3)
	require.True(t, ok)
	require.Equal(t, "sk-abc", string(f3.Data))
	f21, ok := FindFirst(innerFields, 21)
	require.True(t, ok)
	require.Equal(t, "jwt-xyz", string(f21.Data))

	fm := FieldMapDecode(outer)
	require.Equal(t, "model-x", string(fm[8][0].Bytes))
}

func TestVarintRejectsOverlongEncoding(t *testing.T) {
	// 11 continuation bytes: exceeds the 10-byte limit.
	buf := make([]byte, 11)
	for i := range buf {
		buf[i] = 0x80
	}
	_, n := decodeVarint(buf)
	require.Equal(t, -1, n)

	_, _, err := ValidateVarint(buf)
	require.Error(t, err)
}

func TestRawDecodeStopsOnUnsupportedWireType(t *testing.T) {
	// Wire type 3 (deprecated start-group) is unsupported; decoding must
	// stop without error and return the fields parsed before it.
	var buf []byte
	buf = AppendString(buf, 1, "ok")
	buf = AppendTag(buf, 2, 3)
	buf = append(buf, AppendString(nil, 3, "never reached")...)

	fields := RawDecode(buf)
	require.Len(t, fields, 1)
	require.Equal(t, "ok", string(fields[0].Data))
}

func TestAppendFixed64AndDouble(t *testing.T) {
	var buf []byte
	buf = AppendFixed64(buf, 5, 42)
	buf = AppendDouble(buf, 6, 3.5)

	fields := RawDecode(buf)
	require.Len(t, fields, 2)
	fm := FieldMapDecode(buf)
	require.Equal(t, uint64(42), fm[5][0].Uint)
}
