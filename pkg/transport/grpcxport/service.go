package grpcxport

import (
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// serviceName is the gRPC service this package exposes. There is no .proto
// file defining it; the method below is wired up directly against the
// grpc-go stream plumbing using the raw codec.
const serviceName = "bsend.transport.Transport"

// Handler is called once per delivered message on the server side. A
// non-nil error is reported back to the sender as a failed ack: the
// client-side Request then completes, and its Wait returns an error.
type Handler func(dest int, tag int, payload []byte) error

// RegisterServer wires h into srv as the sole implementation of the
// Transport service's streaming RPC.
func RegisterServer(srv *grpc.Server, h Handler) {
	srv.RegisterService(&serviceDesc, h)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "bsend/transport.proto",
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	h := srv.(Handler)

	for {
		var in rawFrame
		if err := stream.RecvMsg(&in); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		sf, ok := decodeSend(in)
		if !ok {
			return status.Error(codes.InvalidArgument, "grpcxport: malformed send frame")
		}

		err := h(int(sf.dest), int(sf.tag), sf.payload)

		out := encodeAck(ackFrame{seq: sf.seq, ok: err == nil})
		if sendErr := stream.SendMsg(&out); sendErr != nil {
			return sendErr
		}
	}
}
