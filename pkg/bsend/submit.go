package bsend

import (
	"context"

	"github.com/tsukuba-hpcs/mpich-chfs/internal/debug"
	"github.com/tsukuba-hpcs/mpich-chfs/pkg/arena"
	"github.com/tsukuba-hpcs/mpich-chfs/pkg/pack"
	"github.com/tsukuba-hpcs/mpich-chfs/pkg/transport"
)

// Submit packs p and hands it to tr as a nonblocking send to (dest, tag),
// staging the packed bytes in whichever of comm, session, or the
// process-wide buffer resolves first (see [Binder.resolve]). Pass zero for
// comm and/or session to skip that scope.
//
// Submit always runs one round of [Reclaim] against the chosen buffer
// before its first search, then reserves a candidate segment, packs
// directly into it, and hands the packed bytes to tr — mirroring the
// reference allocator, which finds a candidate and only calls
// take_buffer once the nonblocking send has actually been issued, sized to
// the message's real packed length rather than its upfront estimate. If no
// segment is large enough on the first search, Submit reclaims once more
// and tries a second time before giving up with a [SendError].
func Submit(ctx context.Context, b *Binder, comm CommHandle, session SessionHandle, tr transport.Transport, dest, tag int, p pack.Payload) (arena.SegmentID, error) {
	ar, scope := b.resolve(comm, session)
	size := p.Size()

	if err := Reclaim(ctx, ar, tr); err != nil {
		return -1, err
	}

	id, buf, ok := ar.Reserve(size)
	if !ok {
		if err := Reclaim(ctx, ar, tr); err != nil {
			return -1, err
		}

		id, buf, ok = ar.Reserve(size)
		if !ok {
			return -1, &SendError{Scope: scope, Requested: size, Available: ar.Largest()}
		}
	}

	n, err := p.Pack(buf)
	if err != nil {
		ar.Abort(id)
		return -1, err
	}

	debug.Log(nil, "Submit", "packed %d bytes into segment %d for dest=%d tag=%d", n, id, dest, tag)

	req, err := tr.Send(ctx, dest, tag, buf[:n])
	if err != nil {
		ar.Abort(id)
		return -1, err
	}

	ar.Commit(id, n)
	ar.SetHandle(id, req)

	return id, nil
}
