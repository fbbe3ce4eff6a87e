package arena

// Find scans the free list for a segment whose payload capacity is at
// least size bytes. It does not remove anything from the free list; call
// [Arena.Take] with the returned id to actually carve out a segment.
//
// Find on its own is racy against concurrent callers: nothing stops two
// goroutines from finding the same segment and both calling Take on it.
// Callers that cannot arrange their own external serialization should use
// [Arena.Alloc] instead, which finds and takes atomically.
func (a *Arena) Find(size int) (SegmentID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.findLocked(size)
}

func (a *Arena) findLocked(size int) (SegmentID, bool) {
	if a.buf == nil {
		return invalidSegment, false
	}

	for off := a.freeHead; off != noOffset; off = headerAt(a.buf, off).next {
		if _, busy := a.reserved[off]; busy {
			continue
		}
		if headerAt(a.buf, off).payloadCapacity >= size {
			return SegmentID(off), true
		}
	}
	return invalidSegment, false
}

// Largest returns the payload capacity of the single largest free segment
// not currently reserved, or 0 if none is attached or the free list is
// empty. It exists purely for diagnostics: reporting how close a failed
// allocation came to fitting.
func (a *Arena) Largest() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	best := 0
	for off := a.freeHead; off != noOffset; off = headerAt(a.buf, off).next {
		if _, busy := a.reserved[off]; busy {
			continue
		}
		if c := headerAt(a.buf, off).payloadCapacity; c > best {
			best = c
		}
	}
	return best
}

// Alloc finds a free segment with at least size bytes of payload capacity
// and takes it in a single atomic step, closing the race window between a
// bare [Arena.Find] and [Arena.Take]. It splits and activates the segment
// immediately, sized to size.
//
// Callers that need to pack a message (whose true length may be smaller
// than size) and only take the segment once a transport send actually
// succeeds should use [Arena.Reserve]/[Arena.Commit]/[Arena.Abort] instead,
// which defer the split/activate step until the real byte count is known.
func (a *Arena) Alloc(size int) (SegmentID, []byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id, ok := a.findLocked(size)
	if !ok {
		return invalidSegment, nil, false
	}
	return id, a.takeLocked(id, size), true
}

// Reserve finds a free segment with at least size bytes of payload
// capacity and marks it reserved without taking it: the segment stays on
// the free list, structurally unsplit, but is excluded from further
// Find/Alloc/Reserve calls until the caller resolves the reservation with
// [Arena.Commit] or [Arena.Abort]. This lets a caller pack a message
// directly into the segment's full payload region and hand it to a
// transport before committing to an exact split size, while still
// preventing a second caller from reserving the same bytes.
//
// The returned slice is sized to the segment's full payload capacity, which
// may be larger than size.
func (a *Arena) Reserve(size int) (SegmentID, []byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id, ok := a.findLocked(size)
	if !ok {
		return invalidSegment, nil, false
	}
	a.reserved[int(id)] = struct{}{}
	return id, payload(a.buf, int(id)), true
}

// Commit resolves a reservation made by [Arena.Reserve] into a real
// allocation: it splits the segment to size (the actual number of bytes
// the caller ended up using, which may be smaller than the size originally
// passed to Reserve) and moves it onto the active list.
func (a *Arena) Commit(id SegmentID, size int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.reserved, int(id))
	a.takeLocked(id, size)
}

// Abort cancels a reservation made by [Arena.Reserve] without taking the
// segment, returning it to ordinary visibility on the free list. Used when
// packing or sending fails before the segment was ever committed.
func (a *Arena) Abort(id SegmentID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.reserved, int(id))
}

// Take carves size bytes of payload out of the free segment id (as
// previously returned by [Arena.Find]) and moves it onto the active list.
// If the remainder of the free block is large enough to stand on its own,
// it is split off and left on the free list; otherwise the whole block is
// handed over, possibly oversized.
//
// It returns the payload slice the caller may now pack a message into, big
// enough to hold at least size bytes.
func (a *Arena) Take(id SegmentID, size int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.takeLocked(id, size)
}

func (a *Arena) takeLocked(id SegmentID, size int) []byte {
	offset := int(id)
	h := headerAt(a.buf, offset)

	allocSize := size
	if r := allocSize % MaxAlignment; r != 0 {
		allocSize += MaxAlignment - r
	}

	if allocSize+headerSize+MinBufferBlock <= h.payloadCapacity {
		newOff := offset + headerSize + allocSize
		newH := headerAt(a.buf, newOff)
		newH.totalSize = h.totalSize - allocSize - headerSize
		newH.payloadCapacity = newH.totalSize - headerSize
		newH.payloadUsed = 0

		newH.next = h.next
		newH.prev = offset
		if h.next != noOffset {
			headerAt(a.buf, h.next).prev = newOff
		}
		h.next = newOff
		h.totalSize = newOff - offset
		h.payloadCapacity = h.totalSize - headerSize
	}

	a.unlinkFree(offset)
	a.pushActive(offset)

	h.payloadUsed = size

	return payload(a.buf, offset)
}

// Payload returns the full, capacity-sized byte range backing a live
// segment.
func (a *Arena) Payload(id SegmentID) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	return payload(a.buf, int(id))
}

// Sent returns the portion of a live segment's payload that holds the
// message actually handed to the transport, i.e. sized by the last call to
// [Arena.Take] or [Arena.Commit] rather than by capacity.
func (a *Arena) Sent(id SegmentID) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	return sent(a.buf, int(id))
}

// Free removes id from the active list and returns its storage to the free
// list, merging with physically adjacent free blocks where possible.
//
// Free is also how a failed send is unwound: if the transport rejects a
// message after [Arena.Take] already carved out its segment, the caller
// frees it rather than leaving it stranded on the active list forever.
func (a *Arena) Free(id SegmentID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	offset := int(id)
	a.unlinkActive(offset)
	a.insertFreeMerging(offset)
	delete(a.handles, offset)
}

// SetHandle associates an opaque value with a live segment, typically the
// owning package's outstanding transport request. It overwrites any value
// previously set for id.
func (a *Arena) SetHandle(id SegmentID, v any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.handles[int(id)] = v
}

// Handle returns the value previously associated with id via [Arena.SetHandle].
func (a *Arena) Handle(id SegmentID) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.handles[int(id)]
	return v, ok
}

// Active calls f once for every segment currently on the active list, in
// unspecified order, until f returns false. It is meant to drive a reclaim
// pass: f typically checks the segment's associated handle for completion
// and calls [Arena.Free] when done.
//
// Active takes a snapshot of the active list's offsets before calling f,
// so f is free to call [Arena.Free] on the segment it was just given (or
// any other) without corrupting the scan in progress.
func (a *Arena) Active(f func(id SegmentID) (keepGoing bool)) {
	for _, id := range a.activeSnapshot() {
		if !f(id) {
			return
		}
	}
}

// activeSnapshot copies the current active-list offsets so that Active's
// callback may mutate the list (by freeing segments) without corrupting
// the iteration in progress.
func (a *Arena) activeSnapshot() []SegmentID {
	a.mu.Lock()
	defer a.mu.Unlock()

	var ids []SegmentID
	for off := a.activeHead; off != noOffset; off = headerAt(a.buf, off).next {
		ids = append(ids, SegmentID(off))
	}
	return ids
}
