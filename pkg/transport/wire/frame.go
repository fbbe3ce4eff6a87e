// Package wire implements the length-prefixed framing used to carry
// already-packed bsend segments over a byte-oriented transport stream.
//
// A frame is a varint byte count followed by that many payload bytes. It
// reuses protobuf's own varint encoding (via protowire) rather than
// defining a bespoke one, since every other wire-facing piece of this
// module already links protobuf for message packing.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Append appends a framed copy of payload to dst and returns the result.
func Append(dst []byte, payload []byte) []byte {
	dst = protowire.AppendVarint(dst, uint64(len(payload)))
	dst = append(dst, payload...)
	return dst
}

// Size returns the number of bytes [Append] would add for a payload of the
// given length.
func Size(payloadLen int) int {
	return protowire.SizeVarint(uint64(payloadLen)) + payloadLen
}

// Consume reads one frame off the front of buf, returning the payload
// slice (aliasing buf) and the number of bytes consumed. It returns
// ok == false if buf does not yet hold a complete frame.
func Consume(buf []byte) (payload []byte, n int, ok bool) {
	size, varintLen := protowire.ConsumeVarint(buf)
	if varintLen <= 0 {
		return nil, 0, false
	}
	total := varintLen + int(size)
	if total > len(buf) {
		return nil, 0, false
	}
	return buf[varintLen:total], total, true
}

// ErrTruncated is returned by callers that need to distinguish "not enough
// bytes yet" from other stream errors while reading frames incrementally.
var ErrTruncated = fmt.Errorf("wire: truncated frame")
