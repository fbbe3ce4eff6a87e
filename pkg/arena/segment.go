// Package arena implements an intrusive first-fit allocator over a flat,
// user-supplied byte buffer.
//
// The arena never allocates memory of its own: every segment header and
// every payload byte lives inside the buffer the caller handed to
// [Arena.Attach].
// Segments are linked by byte offset rather than by pointer, so the list
// structure survives being embedded in memory Go's garbage collector does
// not scan as pointers.
package arena

import (
	"github.com/tsukuba-hpcs/mpich-chfs/pkg/xunsafe"
	"github.com/tsukuba-hpcs/mpich-chfs/pkg/xunsafe/layout"
)

// noOffset marks the absence of a link in the free or active list.
const noOffset = -1

// segmentHeader sits at the front of every segment, free or active, inside
// the arena's buffer. Offsets are relative to the start of the arena's
// aligned buffer, not to the header itself, and are recomputed whenever a
// segment's base address changes (split, merge).
//
// The header never moves once a segment is taken; only its link fields and
// payloadUsed are mutated in place.
type segmentHeader struct {
	totalSize       int
	payloadCapacity int
	payloadUsed     int
	next            int
	prev            int
}

var headerLayout = layout.Of[segmentHeader]()

// headerSize is the in-band footprint of a segmentHeader, the analogue of
// MPICH's BSENDDATA_HEADER_TRUE_SIZE.
var headerSize = headerLayout.Size

func headerAt(buf []byte, offset int) *segmentHeader {
	return xunsafe.Cast[segmentHeader](&buf[offset])
}

// payload returns the usable byte range of the segment at offset, sized to
// its current capacity.
func payload(buf []byte, offset int) []byte {
	h := headerAt(buf, offset)
	start := offset + headerSize
	return buf[start : start+h.payloadCapacity : start+h.payloadCapacity]
}

// sent returns the portion of the segment's payload that holds a packed,
// pending message, sized to payloadUsed rather than payloadCapacity.
func sent(buf []byte, offset int) []byte {
	h := headerAt(buf, offset)
	start := offset + headerSize
	return buf[start : start+h.payloadUsed : start+h.payloadUsed]
}
