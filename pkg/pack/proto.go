package pack

import (
	"google.golang.org/protobuf/proto"

	"github.com/tsukuba-hpcs/mpich-chfs/pkg/opt"
)

// Proto adapts a [proto.Message] to [Payload]. Its Size comes from
// proto.Size without marshaling. Pack reports how many bytes it actually
// used so the caller can commit the segment at its true packed length
// rather than at the full size of the region it packed into.
type Proto struct {
	Msg  proto.Message
	opts opt.Option[proto.MarshalOptions]
}

// NewProto wraps msg for packing with the given marshal options. None uses
// a zero proto.MarshalOptions value (not deterministic: map entry order is
// unspecified).
func NewProto(msg proto.Message, opts opt.Option[proto.MarshalOptions]) Proto {
	return Proto{Msg: msg, opts: opts}
}

// Size implements [Payload]. It returns proto.Size's result, which is
// exact for a given message as long as the message is not concurrently
// mutated between Size and Pack.
func (p Proto) Size() int {
	return proto.Size(p.Msg)
}

// Pack implements [Payload].
func (p Proto) Pack(dst []byte) (int, error) {
	out, err := p.opts.UnwrapOrDefault().MarshalAppend(dst[:0], p.Msg)
	if err != nil {
		return 0, err
	}
	return len(out), nil
}
