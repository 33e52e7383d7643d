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

// Package wire implements the Platform's length-prefixed RPC envelope
// framing and a minimally-typed protobuf reader/writer that preserves
// untouched fields byte-for-byte. It never declares the Platform's schema;
// it only knows enough about the wire format to locate and rewrite two
// fields (see internal/splice).
package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/gravitational/trace"
	"github.com/klauspost/compress/gzip"
)

// Flag bits of an envelope's first byte.
const (
	FlagUncompressed byte = 0x00
	FlagCompressed   byte = 0x01
	FlagEndOfStream  byte = 0x02
)

// headerSize is the 5-byte outer header: 1 flag byte + 4-byte big-endian
// length.
const headerSize = 5

// Envelope is one framed unit of the Platform's RPC protocol.
type Envelope struct {
	Flags        byte
	Data         []byte
	IsCompressed bool
}

// IsEndOfStream reports the end-of-stream bit.
func (e Envelope) IsEndOfStream() bool { return e.Flags&FlagEndOfStream != 0 }

// DecodeStream splits buf into a sequence of envelopes. A truncated tail
// frame (declared length exceeds the remaining buffer) is dropped silently
// so pass-through mode tolerates partial arrivals; DecodeStream returns
// everything fully decoded so far.
func DecodeStream(buf []byte) []Envelope {
	var out []Envelope
	for len(buf) >= headerSize {
		flags := buf[0]
		length := binary.BigEndian.Uint32(buf[1:5])
		if uint32(len(buf)-headerSize) < length {
			break
		}
		payload := buf[headerSize : headerSize+int(length)]
		buf = buf[headerSize+int(length):]
		out = append(out, Envelope{
			Flags: flags,
			Data:  payload,
			IsCompressed: flags&FlagCompressed != 0,
		})
	}
	return out
}

// Encode writes one envelope: 1 flag byte, 4-byte big-endian length, then
// the raw payload bytes (caller has already gzipped Data if the compressed
// flag is set).
func Encode(flags byte, payload []byte) []byte {
	out := make([]byte, headerSize+len(payload))
	out[0] = flags
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out
}

// Gunzip decompresses a gzip-compressed envelope payload.
func Gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, trace.Wrap(err, "invalid gzip envelope payload")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, trace.Wrap(err, "truncated gzip envelope payload")
	}
	return out, nil
}

// Gzip compresses an envelope payload.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := w.Close(); err != nil {
		return nil, trace.Wrap(err)
	}
	return buf.Bytes(), nil
}
