package bsend

import (
	"context"

	"github.com/tsukuba-hpcs/mpich-chfs/pkg/arena"
	"github.com/tsukuba-hpcs/mpich-chfs/pkg/transport"
)

// Reclaim drives one round of transport progress and frees every active
// segment whose send has since completed. It is exposed standalone (not
// just as Submit's internal retry step) so a caller can drain a buffer
// ahead of [Binder.DetachComm] and friends, which otherwise block until
// every active segment's send completes.
//
// If the active list is already empty, Reclaim returns immediately without
// touching the transport at all, to avoid needless progress calls on an
// idle buffer.
func Reclaim(ctx context.Context, ar *arena.Arena, tr transport.Transport) error {
	if ar.ActiveCount() == 0 {
		return nil
	}

	if err := tr.Progress(ctx); err != nil {
		return err
	}

	ar.Active(func(id arena.SegmentID) bool {
		v, ok := ar.Handle(id)
		if !ok {
			return true
		}
		req, ok := v.(transport.Request)
		if !ok || !req.IsComplete() {
			return true
		}

		if !req.IsPersistent() {
			req.Release()
		}
		ar.Free(id)

		return true
	})

	return nil
}
