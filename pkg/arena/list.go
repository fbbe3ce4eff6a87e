package arena

// unlinkActive removes the segment at offset from the active list, which is
// unordered: new segments are always pushed onto its head.
func (a *Arena) unlinkActive(offset int) {
	h := headerAt(a.buf, offset)

	if h.prev != noOffset {
		headerAt(a.buf, h.prev).next = h.next
	} else {
		a.activeHead = h.next
	}
	if h.next != noOffset {
		headerAt(a.buf, h.next).prev = h.prev
	}
}

// pushActive pushes the segment at offset onto the head of the active list.
func (a *Arena) pushActive(offset int) {
	h := headerAt(a.buf, offset)

	if a.activeHead != noOffset {
		headerAt(a.buf, a.activeHead).prev = offset
	}
	h.next = a.activeHead
	h.prev = noOffset
	a.activeHead = offset
}

// unlinkFree removes the segment at offset from the free list.
func (a *Arena) unlinkFree(offset int) {
	h := headerAt(a.buf, offset)

	if h.prev != noOffset {
		headerAt(a.buf, h.prev).next = h.next
	} else {
		a.freeHead = h.next
	}
	if h.next != noOffset {
		headerAt(a.buf, h.next).prev = h.prev
	}
}

// insertFreeMerging adds the segment at offset to the free list, which is
// kept sorted by ascending address so that adjacency (and hence merging)
// can be detected by comparing offsets directly. It merges offset with its
// physical neighbors on either side when they are themselves free.
//
// This mirrors the reference allocator's free_segment: the segment is first
// located between its neighbors in the (address-ordered) free list, merged
// forward into the following free block if they are contiguous, then merged
// backward into the preceding free block if those are contiguous too.
func (a *Arena) insertFreeMerging(offset int) {
	h := headerAt(a.buf, offset)

	avail := a.freeHead
	availPrev := noOffset
	for avail != noOffset {
		if avail > offset {
			break
		}
		availPrev = avail
		avail = headerAt(a.buf, avail).next
	}

	if avail != noOffset {
		if offset+h.totalSize == avail {
			// p absorbs the following free block.
			ah := headerAt(a.buf, avail)
			h.totalSize += ah.totalSize
			h.payloadCapacity = h.totalSize - headerSize
			h.next = ah.next
			if ah.next != noOffset {
				headerAt(a.buf, ah.next).prev = offset
			}
			avail = noOffset
		} else {
			h.next = avail
			headerAt(a.buf, avail).prev = offset
		}
	} else {
		h.next = noOffset
	}

	if availPrev != noOffset {
		ph := headerAt(a.buf, availPrev)
		if availPrev+ph.totalSize == offset {
			// the preceding free block absorbs p (and whatever p just
			// absorbed above).
			ph.totalSize += h.totalSize
			ph.payloadCapacity = ph.totalSize - headerSize
			ph.next = h.next
			if h.next != noOffset {
				headerAt(a.buf, h.next).prev = availPrev
			}
		} else {
			ph.next = offset
			h.prev = availPrev
		}
	} else {
		a.freeHead = offset
		h.prev = noOffset
	}
}
