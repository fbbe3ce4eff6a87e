// Package bsend orchestrates buffered sends on top of [arena.Arena] and
// [transport.Transport]: packing a caller's [pack.Payload] into an
// allocated segment, handing it to a transport, and reclaiming the
// segment once the send completes.
//
// A [Binder] holds one arena per binding scope: the process as a whole,
// plus one per attached communicator or session. Submit resolves which
// scope a send belongs to using the same precedence MPI gives these
// scopes: a communicator-level buffer shadows a session-level buffer,
// which shadows the process-wide buffer.
package bsend

import (
	"context"

	"github.com/tsukuba-hpcs/mpich-chfs/internal/xsync"
	"github.com/tsukuba-hpcs/mpich-chfs/pkg/arena"
)

// CommHandle identifies a communicator with its own attached buffer.
type CommHandle int64

// SessionHandle identifies a session with its own attached buffer.
type SessionHandle int64

// binding pairs an arena with the transport that drains it. Every
// exported Binder operation that touches a binding's arena and handle
// table does so through the arena's own locking; binding itself adds no
// additional lock, since closing the find/take race is the arena's job
// (see [arena.Arena.Alloc]), not this layer's.
type binding struct {
	arena *arena.Arena
}

func newBinding() *binding {
	return &binding{arena: arena.New()}
}

// Binder owns the process-wide buffer plus any number of communicator- and
// session-scoped buffers, each independently attachable and detachable.
type Binder struct {
	process       *binding
	communicators xsync.Map[CommHandle, *binding]
	sessions      xsync.Map[SessionHandle, *binding]
}

// NewBinder constructs a Binder with an unattached process-wide buffer.
func NewBinder() *Binder {
	return &Binder{process: newBinding()}
}

// AttachProcess attaches buf as the process-wide bsend buffer, used by
// sends that name neither a communicator nor a session.
func (b *Binder) AttachProcess(buf []byte) error {
	return b.process.arena.Attach(buf)
}

// DetachProcess blocks until every process-wide active segment's send
// completes, then detaches the buffer.
func (b *Binder) DetachProcess(ctx context.Context) ([]byte, int, error) {
	return b.process.arena.Detach(ctx)
}

// AttachComm attaches buf as comm's buffer. Once attached, sends submitted
// against comm use this buffer instead of any session- or process-level
// one.
func (b *Binder) AttachComm(comm CommHandle, buf []byte) error {
	bd, _ := b.communicators.LoadOrStore(comm, newBinding)
	return bd.arena.Attach(buf)
}

// DetachComm blocks until every active segment on comm's buffer completes,
// then detaches it.
func (b *Binder) DetachComm(ctx context.Context, comm CommHandle) ([]byte, int, error) {
	bd, ok := b.communicators.Load(comm)
	if !ok {
		return nil, 0, arena.ErrNotAttached
	}
	return bd.arena.Detach(ctx)
}

// AttachSession attaches buf as session's buffer.
func (b *Binder) AttachSession(session SessionHandle, buf []byte) error {
	bd, _ := b.sessions.LoadOrStore(session, newBinding)
	return bd.arena.Attach(buf)
}

// DetachSession blocks until every active segment on session's buffer
// completes, then detaches it.
func (b *Binder) DetachSession(ctx context.Context, session SessionHandle) ([]byte, int, error) {
	bd, ok := b.sessions.Load(session)
	if !ok {
		return nil, 0, arena.ErrNotAttached
	}
	return bd.arena.Detach(ctx)
}

// Scope names which of a Binder's arenas a call resolved to.
type Scope int

const (
	// ScopeProcess is the process-wide buffer.
	ScopeProcess Scope = iota
	// ScopeSession is a session-level buffer.
	ScopeSession
	// ScopeComm is a communicator-level buffer.
	ScopeComm
)

// resolve picks the arena a send against (comm, session) should use,
// preferring a communicator-level buffer over a session-level buffer over
// the process-wide fallback. A zero CommHandle or SessionHandle means "not
// specified" and is skipped, as is one whose buffer has been detached.
func (b *Binder) resolve(comm CommHandle, session SessionHandle) (*arena.Arena, Scope) {
	if comm != 0 {
		if bd, ok := b.communicators.Load(comm); ok && bd.arena.Attached() {
			return bd.arena, ScopeComm
		}
	}
	if session != 0 {
		if bd, ok := b.sessions.Load(session); ok && bd.arena.Attached() {
			return bd.arena, ScopeSession
		}
	}
	return b.process.arena, ScopeProcess
}

// ProcessArena returns the process-wide arena directly, for callers that
// want to drive [Reclaim] themselves rather than waiting for the next
// [Submit] to do it as a side effect of running out of space.
func (b *Binder) ProcessArena() *arena.Arena {
	return b.process.arena
}

// CommArena returns comm's arena, if a buffer has ever been attached to it.
func (b *Binder) CommArena(comm CommHandle) (*arena.Arena, bool) {
	bd, ok := b.communicators.Load(comm)
	if !ok {
		return nil, false
	}
	return bd.arena, true
}

// SessionArena returns session's arena, if a buffer has ever been attached
// to it.
func (b *Binder) SessionArena(session SessionHandle) (*arena.Arena, bool) {
	bd, ok := b.sessions.Load(session)
	if !ok {
		return nil, false
	}
	return bd.arena, true
}

// Finalize detaches every attached buffer unconditionally, in the same
// spirit as [arena.Arena.Finalize]: it is meant for the owning
// application's shutdown path, not for ordinary buffer management.
func (b *Binder) Finalize() {
	b.process.arena.Finalize()
	for _, bd := range b.communicators.All() {
		bd.arena.Finalize()
	}
	for _, bd := range b.sessions.All() {
		bd.arena.Finalize()
	}
}
