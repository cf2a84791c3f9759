package frame

import (
	"fmt"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"github.com/alxayo/pulsenative/internal/pulse/tagstruct"
)

// ControlOp names a control-frame operation.
type ControlOp uint32

const (
	// ControlRegisterBlock announces a newly exported SHM/memfd block the
	// peer may reference by (pool id, block id) in a later memblock frame.
	ControlRegisterBlock ControlOp = iota
	// ControlReleaseBlock tells the exporting side the receiver is done
	// with a block; the exporter may now recycle it.
	ControlReleaseBlock
	// ControlRevokeBlock tells the receiving side a previously exported
	// block must be dropped immediately (exporter reused/unmapped it).
	ControlRevokeBlock
)

// Control is the decoded payload of a KindControl frame.
type Control struct {
	Op      ControlOp
	PoolID  uint32
	BlockID uint32
}

// EncodeControl serializes a control message body as a tagstruct payload.
func EncodeControl(c Control) []byte {
	var w tagstruct.Writer
	w.PutU32(uint32(c.Op))
	w.PutU32(c.PoolID)
	w.PutU32(c.BlockID)
	return w.Bytes()
}

// DecodeControl parses a control message body.
func DecodeControl(payload []byte) (Control, error) {
	r := tagstruct.NewReader(payload)
	op, err := r.GetU32()
	if err != nil {
		return Control{}, err
	}
	poolID, err := r.GetU32()
	if err != nil {
		return Control{}, err
	}
	blockID, err := r.GetU32()
	if err != nil {
		return Control{}, err
	}
	if !r.Eof() {
		return Control{}, perr.NewProtocolError("frame.control.decode", fmt.Errorf("trailing bytes in control payload"))
	}
	return Control{Op: ControlOp(op), PoolID: poolID, BlockID: blockID}, nil
}
