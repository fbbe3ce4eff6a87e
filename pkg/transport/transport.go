// Package transport defines the nonblocking-send collaborator a bsend
// segment hands its packed bytes to, and the request handle used to poll
// that send for completion.
//
// This mirrors the reference allocator's relationship with MPI's request
// objects: the arena itself never knows how a send actually moves bytes,
// only that it eventually completes (or is persistent, and so never
// completes on its own).
package transport

import "context"

// Request is a handle to an outstanding nonblocking send.
type Request interface {
	// IsComplete reports whether the send has finished. Once true, it must
	// stay true; callers use it to decide when a segment's storage can be
	// reclaimed.
	IsComplete() bool

	// Wait blocks until the send completes or ctx is done, whichever comes
	// first. A blocking drain (such as the arena's Detach) uses this
	// instead of polling IsComplete in a loop.
	Wait(ctx context.Context) error

	// IsPersistent reports whether this request describes a persistent
	// send (e.g. one created by MPI_Bsend_init), which is reused across
	// multiple sends rather than freed after a single completion.
	IsPersistent() bool

	// AddRef adds a reference to this request, for a persistent send
	// reused across multiple rounds. A Transport that never produces
	// persistent requests may implement this as a no-op.
	AddRef()

	// Release relinquishes this handle. For a non-persistent request this
	// frees it outright; for a persistent one it only drops this
	// collaborator's reference, via AddRef/Release bookkeeping.
	Release()
}

// Transport issues nonblocking sends and drives their progress.
type Transport interface {
	// Send starts a nonblocking send of data to dest, tagged with tag, and
	// returns a handle for tracking its completion. data must remain valid
	// and unmodified until the returned Request reports IsComplete.
	Send(ctx context.Context, dest int, tag int, data []byte) (Request, error)

	// Progress drives the underlying transport's event loop forward by one
	// step, so that outstanding Requests have a chance to observe
	// completion. It is safe to call speculatively; a Transport with
	// nothing to do returns immediately.
	Progress(ctx context.Context) error
}
