package arena

import (
	"context"
	"fmt"
	"sync"

	"github.com/tsukuba-hpcs/mpich-chfs/internal/debug"
	"github.com/tsukuba-hpcs/mpich-chfs/pkg/xunsafe"
	"github.com/tsukuba-hpcs/mpich-chfs/pkg/xunsafe/layout"
)

// alignProbe is a struct whose alignment is at least as strict as any
// scalar type the pack layer might place at the front of a payload.
type alignProbe struct {
	_ complex128
	_ uintptr
}

// MaxAlignment is the alignment every segment's payload is guaranteed to
// start at, regardless of where the caller's buffer itself begins.
var MaxAlignment = layout.Align[alignProbe]()

// MinBufferBlock is the smallest payload capacity [Arena.Alloc] will ever
// carve off as a standalone segment; splitting a free block into a
// remainder smaller than this is rejected in favor of over-allocating the
// whole block.
const MinBufferBlock = 8

// Overhead bounds the per-segment bookkeeping cost: an allocation that
// splits a free block consumes one header beyond what the caller asked for,
// plus up to MaxAlignment-1 bytes of rounding, which is always less than
// Overhead.
var Overhead = headerSize + MaxAlignment

// SegmentID identifies a live (active) segment within an arena. It is the
// segment's header offset into the arena's aligned buffer, which does not
// change once the segment is taken from the free list.
type SegmentID int

// invalidSegment marks the absence of a segment. It is negative because
// offset 0 is a real segment: the first segment's header sits at the very
// start of the aligned buffer.
const invalidSegment SegmentID = -1

// Arena is an intrusive first-fit allocator over a single flat byte buffer
// supplied by the caller. It carries no payload bytes of its own: every
// segment header and every payload byte lives inside that buffer.
//
// Arena is safe for concurrent use; all list mutation happens under a
// single internal mutex, which every method releases before returning.
// [Arena.Detach] also releases it while waiting on each segment's handle.
type Arena struct {
	mu sync.Mutex

	origBuf []byte // exactly as handed to Attach, for Detach's round trip
	buf     []byte // origBuf's usable region, rounded up to MaxAlignment

	freeHead   int // offset into buf, or noOffset
	activeHead int // offset into buf, or noOffset

	// handles associates a live segment's offset with an opaque value the
	// owning package uses to track its outstanding transport request. The
	// arena itself never interprets these values; it only keeps them
	// co-located with the segment they describe.
	handles map[int]any

	// reserved marks free segments a caller has claimed via [Arena.Reserve]
	// but not yet turned active via [Arena.Commit] (or released back via
	// [Arena.Abort]). Reserved segments stay on the free list structurally
	// but are invisible to Find/Alloc, so two concurrent reservations can
	// never claim the same bytes.
	reserved map[int]struct{}
}

// New constructs an unattached Arena. Call [Arena.Attach] before using it.
func New() *Arena {
	return &Arena{
		freeHead:   noOffset,
		activeHead: noOffset,
		handles:    make(map[int]any),
		reserved:   make(map[int]struct{}),
	}
}

// Attach binds buf as the arena's backing storage. buf must remain valid
// and must not be accessed by the caller until [Arena.Detach] or
// [Arena.Finalize] returns; the arena takes full ownership of its bytes.
func (a *Arena) Attach(buf []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.origBuf != nil {
		return ErrAlreadyAttached
	}

	pad := 0
	if len(buf) > 0 {
		pad = xunsafe.AddrOf(&buf[0]).Padding(MaxAlignment)
	}
	aligned := buf
	if pad > 0 && pad < len(buf) {
		aligned = buf[pad:]
	}

	if len(aligned) < headerSize+MinBufferBlock {
		return fmt.Errorf("%w: %w", ErrTooSmall, &BufferError{Op: "attach", Requested: headerSize + MinBufferBlock, Available: len(aligned)})
	}

	a.origBuf = buf
	a.buf = aligned

	root := headerAt(a.buf, 0)
	*root = segmentHeader{
		totalSize:       len(a.buf),
		payloadCapacity: len(a.buf) - headerSize,
		payloadUsed:     0,
		next:            noOffset,
		prev:            noOffset,
	}
	a.freeHead = 0
	a.activeHead = noOffset

	debug.Log(nil, "Attach", "attached %d bytes (%d usable after alignment)", len(buf), len(a.buf))

	return nil
}

// Attached reports whether a buffer is currently attached.
func (a *Arena) Attached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.origBuf != nil
}

// waiter is the subset of a live segment's handle Detach needs: something
// it can block on until the send it represents finishes. It is declared
// locally, rather than importing the transport package's Request type, so
// the arena stays decoupled from any one transport implementation; any
// handle set via [Arena.SetHandle] that happens to implement Wait
// participates in Detach's drain.
type waiter interface {
	Wait(ctx context.Context) error
}

// Detach blocks until every active segment's send completes, then releases
// the attached buffer and returns it along with its original size. This
// mirrors the reference implementation's detach, which walks the active
// list and blocking-waits on each segment's request before returning.
//
// Detach on an arena with nothing attached succeeds immediately, returning
// (nil, 0, nil); this is idempotent, matching the reference's "already
// detached" branch.
func (a *Arena) Detach(ctx context.Context) ([]byte, int, error) {
	a.mu.Lock()
	attached := a.origBuf != nil
	a.mu.Unlock()
	if !attached {
		return nil, 0, nil
	}

	for {
		a.mu.Lock()
		off := a.activeHead
		if off == noOffset {
			a.mu.Unlock()
			break
		}
		handle := a.handles[off]
		a.mu.Unlock()

		if w, ok := handle.(waiter); ok {
			if err := w.Wait(ctx); err != nil {
				return nil, 0, err
			}
		}

		a.mu.Lock()
		// off may have been freed already by a concurrent Reclaim while we
		// were waiting; unlinking an already-free segment would corrupt
		// the list, so re-check before touching it.
		if a.isActive(off) {
			a.unlinkActive(off)
			a.insertFreeMerging(off)
			delete(a.handles, off)
		}
		a.mu.Unlock()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	buf, size := a.origBuf, len(a.origBuf)
	a.origBuf, a.buf = nil, nil
	a.freeHead, a.activeHead = noOffset, noOffset
	a.handles = make(map[int]any)
	a.reserved = make(map[int]struct{})

	return buf, size, nil
}

// isActive reports whether offset is currently linked into the active
// list. Called with a.mu held.
func (a *Arena) isActive(offset int) bool {
	for off := a.activeHead; off != noOffset; off = headerAt(a.buf, off).next {
		if off == offset {
			return true
		}
	}
	return false
}

// ActiveCount returns the number of segments currently holding an
// outstanding transport send.
func (a *Arena) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for off := a.activeHead; off != noOffset; off = headerAt(a.buf, off).next {
		n++
	}
	return n
}

// Finalize detaches the arena unconditionally, abandoning any active
// segments' bookkeeping without waiting for their sends. It is meant to be
// called only from the owning package's own finalize path.
func (a *Arena) Finalize() ([]byte, int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.origBuf == nil {
		return nil, 0
	}

	buf, size := a.origBuf, len(a.origBuf)
	a.origBuf, a.buf = nil, nil
	a.freeHead, a.activeHead = noOffset, noOffset
	a.handles = make(map[int]any)
	a.reserved = make(map[int]struct{})

	return buf, size
}
