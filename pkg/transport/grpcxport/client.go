package grpcxport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"github.com/tsukuba-hpcs/mpich-chfs/internal/xsync"
	"github.com/tsukuba-hpcs/mpich-chfs/pkg/transport"
)

var clientStreamDesc = grpc.StreamDesc{
	StreamName:    "Stream",
	ServerStreams: true,
	ClientStreams: true,
}

// Transport is a [transport.Transport] backed by a single gRPC
// bidirectional stream. Completion of a [transport.Request] is driven by a
// background goroutine reading acks off that stream; [Transport.Progress]
// is a cheap liveness check rather than the thing that makes progress
// happen, since gRPC's own stream delivers acks asynchronously regardless
// of whether Progress is called.
type Transport struct {
	conn *grpc.ClientConn
	log  *zap.Logger

	mu     sync.Mutex
	stream grpc.ClientStream

	seq     atomic.Uint64
	pending xsync.Map[uint64, *request]

	lastErr atomic.Pointer[error]
}

// Dial connects to target and establishes the initial stream.
func Dial(ctx context.Context, target string, log *zap.Logger, opts ...grpc.DialOption) (*Transport, error) {
	if log == nil {
		log = zap.NewNop()
	}

	opts = append(opts, grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})))
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpcxport: dial %s: %w", target, err)
	}

	t := &Transport{conn: conn, log: log}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	go t.recvLoop()

	return t, nil
}

// Close tears down the underlying connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

func (t *Transport) connect(ctx context.Context) error {
	stream, err := t.conn.NewStream(ctx, &clientStreamDesc, "/"+serviceName+"/Stream")
	if err != nil {
		return fmt.Errorf("grpcxport: open stream: %w", err)
	}

	t.mu.Lock()
	t.stream = stream
	t.mu.Unlock()

	return nil
}

func (t *Transport) currentStream() grpc.ClientStream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stream
}

// Send implements [transport.Transport].
func (t *Transport) Send(ctx context.Context, dest, tag int, data []byte) (transport.Request, error) {
	seq := t.seq.Add(1)
	r := &request{seq: seq, owner: t}
	t.pending.Store(seq, r)

	f := encodeSend(sendFrame{seq: seq, dest: int64(dest), tag: int64(tag), payload: data})
	if err := t.currentStream().SendMsg(&f); err != nil {
		return nil, fmt.Errorf("grpcxport: send: %w", err)
	}

	return r, nil
}

// Progress implements [transport.Transport]. Completion is actually driven
// by a background goroutine; this surfaces the last stream error observed,
// if any, so a caller that polls Progress still learns about a broken
// connection even while reconnection is in flight.
func (t *Transport) Progress(ctx context.Context) error {
	if p := t.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (t *Transport) recvLoop() {
	for {
		stream := t.currentStream()

		var in rawFrame
		err := stream.RecvMsg(&in)
		if err != nil {
			t.log.Warn("grpcxport: stream recv failed, reconnecting", zap.Error(err))
			t.lastErr.Store(&err)

			if !t.reconnect() {
				return
			}
			continue
		}

		ack, ok := decodeAck(in)
		if !ok {
			continue
		}

		if r, found := t.pending.Load(ack.seq); found {
			r.ok.Store(ack.ok)
			r.done.Store(true)
		}
	}
}

// reconnect retries [Transport.connect] with exponential backoff until it
// succeeds or the connection is permanently shut down. It returns false
// only when the underlying ClientConn itself has entered a terminal state.
func (t *Transport) reconnect() bool {
	ticker := backoff.NewTicker(&backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         30 * time.Second,
	})
	defer ticker.Stop()

	for range ticker.C {
		if t.conn.GetState() == connectivity.Shutdown {
			return false
		}
		if err := t.connect(context.Background()); err != nil {
			t.log.Warn("grpcxport: reconnect attempt failed", zap.Error(err))
			continue
		}
		return true
	}
	return false
}

// request is a [transport.Request] backed by a pending ack on the stream.
type request struct {
	owner *Transport
	seq   uint64
	done  atomic.Bool
	ok    atomic.Bool
}

// IsComplete implements [transport.Request].
func (r *request) IsComplete() bool { return r.done.Load() }

// Wait implements [transport.Request]. Completion here is driven entirely
// by the background recvLoop goroutine reading acks off the stream, so
// Wait just polls done rather than driving progress itself.
func (r *request) Wait(ctx context.Context) error {
	for !r.done.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	if !r.ok.Load() {
		return fmt.Errorf("grpcxport: send %d rejected by peer", r.seq)
	}
	return nil
}

// IsPersistent implements [transport.Request]. grpcxport never produces
// persistent requests.
func (r *request) IsPersistent() bool { return false }

// AddRef implements [transport.Request]. grpcxport never produces
// persistent requests, so there is only ever one logical owner of a
// request; AddRef is a no-op.
func (r *request) AddRef() {}

// Release implements [transport.Request]. It is a no-op: the pending-ack
// table is keyed by an ever-increasing sequence number and entries are
// cheap, so there is nothing to reclaim beyond normal garbage collection of
// the Transport itself.
func (r *request) Release() {}
