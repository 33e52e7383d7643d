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
	"encoding/binary"
	"math"

	"github.com/gravitational/trace"
)

// Wire types this codec understands. Anything else causes an early,
// non-throwing stop (RawDecode/FieldMapDecode return what was parsed so
// far), since the Platform's schema is deliberately not declared here.
const (
	WireVarint = 0
	WireI64    = 1
	WireLEN    = 2
	WireI32    = 5
)

// maxVarintBytes is the boundary past which a varint is considered
// malformed (a valid 64-bit varint never needs more than 10 bytes).
const maxVarintBytes = 10

// RawField is one top-level field of a protobuf message, carrying the
// original untouched byte span so it can be re-emitted verbatim by a
// caller that only wants to change a different field.
type RawField struct {
	Number   int
	WireType int
	RawBytes []byte // includes the tag varint through the end of the value
	Data     []byte // for LEN fields, the value without its length prefix
}

// RawDecode parses buf into an ordered sequence of top-level fields,
// preserving each field's original byte span. Decoding stops (without
// error) at the first unsupported wire type or truncated tag/value,
// returning whatever was successfully parsed.
func RawDecode(buf []byte) []RawField {
	var fields []RawField
	off := 0
	for off < len(buf) {
		start := off
		tag, n := decodeVarint(buf[off:])
		if n <= 0 {
			break
		}
		number := int(tag >> 3)
		wireType := int(tag & 0x7)
		off += n

		var valEnd int
		switch wireType {
		case WireVarint:
			_, vn := decodeVarint(buf[off:])
			if vn <= 0 {
				return fields
			}
			valEnd = off + vn
		case WireI64:
			if off+8 > len(buf) {
				return fields
			}
			valEnd = off + 8
		case WireI32:
			if off+4 > len(buf) {
				return fields
			}
			valEnd = off + 4
		case WireLEN:
			length, ln := decodeVarint(buf[off:])
			if ln <= 0 {
				return fields
			}
			dataStart := off + ln
			dataEnd := dataStart + int(length)
			if dataEnd > len(buf) || dataEnd < dataStart {
				return fields
			}
			fields = append(fields, RawField{
				Number:   number,
				WireType: wireType,
				RawBytes: buf[start:dataEnd],
				Data:     buf[dataStart:dataEnd],
			})
			off = dataEnd
			continue
		default:
			// Unsupported wire type: stop, do not throw.
			return fields
		}

		fields = append(fields, RawField{
			Number:   number,
			WireType: wireType,
			RawBytes: buf[start:valEnd],
		})
		off = valEnd
	}
	return fields
}

// FieldMap is an ordered multimap field number -> decoded values, used for
// reading only (never re-serialised).
type FieldMap map[int][]FieldValue

// FieldValue is a decoded value: for numeric wire types, Uint holds the raw
// varint/fixed value; for LEN, Bytes holds the submessage/string/bytes
// payload.
type FieldValue struct {
	Uint  uint64
	Bytes []byte
}

// FieldMapDecode produces an ordered field-number -> values map for reading.
// Mirrors RawDecode's tolerance of unsupported wire types and truncation.
func FieldMapDecode(buf []byte) FieldMap {
	m := FieldMap{}
	for _, f := range RawDecode(buf) {
		switch f.WireType {
		case WireLEN:
			m[f.Number] = append(m[f.Number], FieldValue{Bytes: f.Data})
		case WireVarint, WireI64, WireI32:
			// Strip the tag to read the raw numeric value.
			_, n := decodeVarint(f.RawBytes)
			v, _ := decodeValue(f.WireType, f.RawBytes[n:])
			m[f.Number] = append(m[f.Number], FieldValue{Uint: v})
		}
	}
	return m
}

func decodeValue(wireType int, buf []byte) (uint64, int) {
	switch wireType {
	case WireVarint:
		return decodeVarint(buf)
	case WireI64:
		if len(buf) < 8 {
			return 0, -1
		}
		return binary.LittleEndian.Uint64(buf[:8]), 8
	case WireI32:
		if len(buf) < 4 {
			return 0, -1
		}
		return uint64(binary.LittleEndian.Uint32(buf[:4])), 4
	}
	return 0, -1
}

// decodeVarint decodes a base-128 varint, returning (value, bytesConsumed).
// bytesConsumed is -1 if buf is truncated or the varint exceeds
// maxVarintBytes (the spec's "varint greater than 10 bytes rejected").
func decodeVarint(buf []byte) (uint64, int) {
	var v uint64
	for i := 0; i < len(buf) && i < maxVarintBytes; i++ {
		b := buf[i]
		v |= uint64(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, -1
}

// --- Writer ---

// AppendTag appends a protobuf tag (number<<3 | wireType) as a varint.
func AppendTag(dst []byte, number, wireType int) []byte {
	return AppendVarint(dst, uint64(number)<<3|uint64(wireType))
}

// AppendVarint appends v as a base-128 varint.
func AppendVarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// AppendLengthDelimited appends a LEN-wire-type field: tag, varint length,
// then the raw value bytes (used for strings, bytes, and submessages).
func AppendLengthDelimited(dst []byte, number int, value []byte) []byte {
	dst = AppendTag(dst, number, WireLEN)
	dst = AppendVarint(dst, uint64(len(value)))
	return append(dst, value...)
}

// AppendString is an alias of AppendLengthDelimited for string fields.
func AppendString(dst []byte, number int, value string) []byte {
	return AppendLengthDelimited(dst, number, []byte(value))
}

// AppendFixed64 appends an I64-wire-type field (used for fixed64/double).
func AppendFixed64(dst []byte, number int, v uint64) []byte {
	dst = AppendTag(dst, number, WireI64)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// AppendDouble appends a double-valued I64 field.
func AppendDouble(dst []byte, number int, v float64) []byte {
	return AppendFixed64(dst, number, math.Float64bits(v))
}

// FindFirst returns the first raw field with the given number, or ok=false.
func FindFirst(fields []RawField, number int) (RawField, bool) {
	for _, f := range fields {
		if f.Number == number {
			return f, true
		}
	}
	return RawField{}, false
}

// ValidateVarint re-parses the varint at the start of buf and returns an
// error if it is malformed or exceeds the 10-byte limit, for callers that
// need an explicit error rather than the tolerant decodeVarint contract.
func ValidateVarint(buf []byte) (uint64, int, error) {
	v, n := decodeVarint(buf)
	if n <= 0 {
		return 0, 0, trace.BadParameter("malformed or oversized varint")
	}
	return v, n, nil
}
