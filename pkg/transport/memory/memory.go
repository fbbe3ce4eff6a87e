// Package memory implements an in-process [transport.Transport] useful for
// tests and for the bsenddemo CLI's single-binary mode, where "sending" a
// message means handing it to another goroutine rather than a network
// peer.
package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tsukuba-hpcs/mpich-chfs/internal/xsync"
	"github.com/tsukuba-hpcs/mpich-chfs/pkg/transport"
)

// Message is a single delivered send, captured for a test or demo to
// inspect after the fact.
type Message struct {
	Dest int
	Tag  int
	Data []byte
}

// Transport is a [transport.Transport] that completes every send after a
// fixed number of Progress calls, and records delivered messages for later
// inspection.
type Transport struct {
	// Latency is the number of Progress calls a Request waits through
	// before reporting complete. Zero means sends complete immediately.
	Latency int

	delivered chan Message
	requests  xsync.Map[*request, struct{}]
	reqPool   xsync.Pool[request]
}

// New constructs a Transport whose delivered messages can be drained from
// the returned channel; it is buffered generously enough that a test need
// not service it concurrently with calling Send.
func New(latency int) (*Transport, <-chan Message) {
	ch := make(chan Message, 1024)
	return &Transport{Latency: latency, delivered: ch}, ch
}

// Send implements [transport.Transport].
func (t *Transport) Send(ctx context.Context, dest, tag int, data []byte) (transport.Request, error) {
	cp := make([]byte, len(data))
	copy(cp, data)

	r := t.reqPool.Get()
	r.remaining.Store(int64(t.Latency))
	r.done.Store(false)
	r.msg = Message{Dest: dest, Tag: tag, Data: cp}
	r.owner = t

	t.requests.Store(r, struct{}{})

	if t.Latency == 0 {
		t.deliver(r)
	}

	return r, nil
}

// Progress implements [transport.Transport]. Each call advances every
// outstanding request's countdown by one and delivers any that reach zero.
func (t *Transport) Progress(ctx context.Context) error {
	for r := range t.requests.All() {
		if r.done.Load() {
			continue
		}
		if r.remaining.Add(-1) <= 0 {
			t.deliver(r)
		}
	}
	return nil
}

func (t *Transport) deliver(r *request) {
	if r.done.Swap(true) {
		return
	}
	select {
	case t.delivered <- r.msg:
	default:
	}
}

// request is a [transport.Request] backing a single non-persistent send.
type request struct {
	owner     *Transport
	msg       Message
	remaining atomic.Int64
	done      atomic.Bool
}

// IsComplete implements [transport.Request].
func (r *request) IsComplete() bool { return r.done.Load() }

// Wait implements [transport.Request]. Since this Transport only completes
// a send when something calls Progress, Wait drives Progress itself rather
// than merely polling IsComplete, so a caller blocked in Wait is not
// depending on some other goroutine to also be calling Progress.
func (r *request) Wait(ctx context.Context) error {
	for !r.done.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := r.owner.Progress(ctx); err != nil {
			return err
		}
		if r.done.Load() {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// IsPersistent implements [transport.Request]. This Transport never
// produces persistent requests.
func (r *request) IsPersistent() bool { return false }

// AddRef implements [transport.Request]. This Transport never produces
// persistent requests, so there is only ever one logical owner of a
// request and nothing to reference-count; AddRef is a no-op.
func (r *request) AddRef() {}

// Release implements [transport.Request].
func (r *request) Release() {
	r.owner.reqPool.Put(r)
}
