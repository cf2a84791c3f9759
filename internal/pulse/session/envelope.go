package session

import (
	perr "github.com/alxayo/pulsenative/internal/errors"
	"github.com/alxayo/pulsenative/internal/pulse/dispatch"
	"github.com/alxayo/pulsenative/internal/pulse/tagstruct"
)

// Reserved opcode values a packet's leading U32 may carry instead of a
// command from the static table (spec.md §4.2's TagCodec envelope: every
// packet frame is [opcode][tag][args...]).
const (
	opReply dispatch.Opcode = 0xfffffffe
	opError dispatch.Opcode = 0xffffffff
)

// decodeEnvelope splits a raw packet payload into its opcode, tag, and a
// Reader positioned at the start of the argument list.
func decodeEnvelope(payload []byte) (op dispatch.Opcode, tag uint32, args *tagstruct.Reader, err error) {
	r := tagstruct.NewReader(payload)
	opVal, err := r.GetU32()
	if err != nil {
		return 0, 0, nil, err
	}
	tag, err = r.GetU32()
	if err != nil {
		return 0, 0, nil, err
	}
	return dispatch.Opcode(opVal), tag, r, nil
}

// encodeReply wraps args as a REPLY(tag, args...) packet payload.
func encodeReply(tag uint32, args *tagstruct.Writer) []byte {
	var w tagstruct.Writer
	w.PutU32(uint32(opReply))
	w.PutU32(tag)
	return append(w.Bytes(), args.Bytes()...)
}

// encodeError wraps the wire code for err as an ERROR(tag, code) packet
// payload.
func encodeError(tag uint32, err error) []byte {
	var w tagstruct.Writer
	w.PutU32(uint32(opError))
	w.PutU32(tag)
	w.PutU32(uint32(perr.WireCode(err)))
	return w.Bytes()
}
