package grpcxport

import "google.golang.org/protobuf/encoding/protowire"

// frameKind distinguishes the two directions a frame flows on the stream:
// a client request carrying a message to deliver, and a server
// acknowledgement that a previously-sent message was delivered.
type frameKind uint64

const (
	kindSend frameKind = iota
	kindAck
)

// sendFrame is what the client writes to the stream for every [Transport.Send]:
// a sequence number the server's ack will echo back, the destination rank
// and tag the caller asked for, and the already-packed payload bytes.
type sendFrame struct {
	seq     uint64
	dest    int64
	tag     int64
	payload []byte
}

func encodeSend(f sendFrame) rawFrame {
	buf := protowire.AppendVarint(nil, uint64(kindSend))
	buf = protowire.AppendVarint(buf, f.seq)
	buf = protowire.AppendVarint(buf, uint64(f.dest))
	buf = protowire.AppendVarint(buf, uint64(f.tag))
	buf = protowire.AppendVarint(buf, uint64(len(f.payload)))
	buf = append(buf, f.payload...)
	return rawFrame(buf)
}

func decodeSend(b []byte) (sendFrame, bool) {
	var f sendFrame

	kind, n := protowire.ConsumeVarint(b)
	if n <= 0 || frameKind(kind) != kindSend {
		return f, false
	}
	b = b[n:]

	seq, n := protowire.ConsumeVarint(b)
	if n <= 0 {
		return f, false
	}
	b = b[n:]

	dest, n := protowire.ConsumeVarint(b)
	if n <= 0 {
		return f, false
	}
	b = b[n:]

	tag, n := protowire.ConsumeVarint(b)
	if n <= 0 {
		return f, false
	}
	b = b[n:]

	size, n := protowire.ConsumeVarint(b)
	if n <= 0 || uint64(len(b)-n) < size {
		return f, false
	}
	b = b[n:]

	f.seq = seq
	f.dest = int64(dest)
	f.tag = int64(tag)
	f.payload = b[:size]
	return f, true
}

// ackFrame is what the server writes back once it has finished handling
// the send with the given sequence number.
type ackFrame struct {
	seq uint64
	ok  bool
}

func encodeAck(f ackFrame) rawFrame {
	okBit := uint64(0)
	if f.ok {
		okBit = 1
	}
	buf := protowire.AppendVarint(nil, uint64(kindAck))
	buf = protowire.AppendVarint(buf, f.seq)
	buf = protowire.AppendVarint(buf, okBit)
	return rawFrame(buf)
}

func decodeAck(b []byte) (ackFrame, bool) {
	var f ackFrame

	kind, n := protowire.ConsumeVarint(b)
	if n <= 0 || frameKind(kind) != kindAck {
		return f, false
	}
	b = b[n:]

	seq, n := protowire.ConsumeVarint(b)
	if n <= 0 {
		return f, false
	}
	b = b[n:]

	okBit, n := protowire.ConsumeVarint(b)
	if n <= 0 {
		return f, false
	}

	f.seq = seq
	f.ok = okBit != 0
	return f, true
}
