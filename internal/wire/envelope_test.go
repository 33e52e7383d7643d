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

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("hello platform")
	buf := Encode(FlagUncompressed, payload)

	envs := DecodeStream(buf)
	require.Len(t, envs, 1)
	require.Equal(t, payload, envs[0].Data)
	require.False(t, envs[0].IsCompressed)
}

func TestEncodeDecodeCompressedRoundTrip(t *testing.T) {
	payload := []byte("hello platform, compressed this time, with enough repetition repetition repetition to compress")
	gz, err := Gzip(payload)
	require.NoError(t, err)

	buf := Encode(FlagCompressed, gz)
	envs := DecodeStream(buf)
	require.Len(t, envs, 1)
	require.True(t, envs[0].IsCompressed)

	out, err := Gunzip(envs[0].Data)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDecodeStreamMultipleFrames(t *testing.T) {
	var buf []byte
	buf = append(buf, Encode(FlagUncompressed, []byte("one"))...)
	buf = append(buf, Encode(FlagUncompressed|FlagEndOfStream, []byte("two"))...)

	envs := DecodeStream(buf)
	require.Len(t, envs, 2)
	require.Equal(t, []byte("one"), envs[0].Data)
	require.Equal(t, []byte("two"), envs[1].Data)
	require.False(t, envs[0].IsEndOfStream())
	require.True(t, envs[1].IsEndOfStream())
}

func TestDecodeStreamTruncatedTailDroppedSilently(t *testing.T) {
	full := Encode(FlagUncompressed, []byte("complete frame"))
	partial := Encode(FlagUncompressed, []byte("truncated frame that never arrives in full"))
	partial = partial[:len(partial)-5] // simulate a partial arrival

	buf := append(append([]byte{}, full...), partial...)
	envs := DecodeStream(buf)
	require.Len(t, envs, 1)
	require.Equal(t, []byte("complete frame"), envs[0].Data)
}

func TestDecodeStreamDeclaredLengthExceedsBuffer(t *testing.T) {
	// Header declares a length far larger than what follows.
	buf := []byte{FlagUncompressed, 0x00, 0x00, 0xff, 0xff}
	envs := DecodeStream(buf)
	require.Empty(t, envs)
}
