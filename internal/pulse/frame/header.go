// Package frame implements PacketStream: framed transport of packet,
// memblock, and control frames multiplexed over a single abstract byte
// channel, with optional SHM-reference payloads and ancillary credential/fd
// passing on local sockets.
package frame

// Header parsing and serialization (mirrors the reference implementation's
// five-field frame header: flags, channel, offset_hi, offset_lo, length).
// Channel carries the frame's kind via two reserved sentinel values;
// anything else names a stream index for a memblock frame.

import (
	"encoding/binary"
	"fmt"
	"io"

	perr "github.com/alxayo/pulsenative/internal/errors"
)

const (
	// ChannelCommand marks a packet (command/reply/error) frame.
	ChannelCommand uint32 = 0xffffffff
	// ChannelControl marks a control (SHM/memfd register/release/revoke) frame.
	ChannelControl uint32 = 0xfffffffe
)

// Flag bits within a frame header.
const (
	// FlagSHMData indicates the payload is a 16-byte SHM reference quadruple
	// (pool id, block id, offset, length) rather than raw bytes.
	FlagSHMData uint32 = 1 << 0
	// FlagSeekMask selects the seek-mode bits (relative/absolute/relative-end/relative-on-read).
	FlagSeekMask uint32 = 0x3 << 1
	// FlagSeekRelative seeks relative to the stream's current write index.
	FlagSeekRelative uint32 = 0 << 1
	// FlagSeekAbsolute seeks to an absolute write index.
	FlagSeekAbsolute uint32 = 1 << 1
	// FlagSeekRelativeEnd seeks relative to the end of the queue.
	FlagSeekRelativeEnd uint32 = 2 << 1
	// FlagSeekRelativeOnRead seeks relative to the read index (consumer side).
	FlagSeekRelativeOnRead uint32 = 3 << 1
)

const headerSize = 5 * 4

// Header is the fixed 20-byte prologue preceding every frame's payload.
type Header struct {
	Flags   uint32
	Channel uint32
	Offset  int64 // reassembled from offset_hi/offset_lo
	Length  uint32
}

// Kind classifies a header by its channel value.
func (h Header) Kind() Kind {
	switch h.Channel {
	case ChannelCommand:
		return KindPacket
	case ChannelControl:
		return KindControl
	default:
		return KindMemblock
	}
}

// Kind names the three frame kinds multiplexed on a PacketStream.
type Kind uint8

const (
	KindPacket Kind = iota
	KindMemblock
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindPacket:
		return "packet"
	case KindMemblock:
		return "memblock"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// EncodeHeader writes a frame header to w.
func EncodeHeader(w io.Writer, h Header) error {
	var buf [headerSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.Flags)
	binary.BigEndian.PutUint32(buf[4:8], h.Channel)
	binary.BigEndian.PutUint32(buf[8:12], uint32(uint64(h.Offset)>>32))
	binary.BigEndian.PutUint32(buf[12:16], uint32(uint64(h.Offset)))
	binary.BigEndian.PutUint32(buf[16:20], h.Length)
	if _, err := w.Write(buf[:]); err != nil {
		return perr.NewInternal("frame.header.write", err)
	}
	return nil
}

// MaxFrameLength bounds a single frame's payload to guard against a
// malicious or corrupt length field forcing an unbounded allocation.
const MaxFrameLength = 16 * 1024 * 1024

// DecodeHeader reads a frame header from r.
func DecodeHeader(r io.Reader) (Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.EOF {
			return Header{}, err
		}
		return Header{}, perr.NewProtocolError("frame.header.read", err)
	}
	hi := binary.BigEndian.Uint32(buf[8:12])
	lo := binary.BigEndian.Uint32(buf[12:16])
	h := Header{
		Flags:   binary.BigEndian.Uint32(buf[0:4]),
		Channel: binary.BigEndian.Uint32(buf[4:8]),
		Offset:  int64(uint64(hi)<<32 | uint64(lo)),
		Length:  binary.BigEndian.Uint32(buf[16:20]),
	}
	if h.Length > MaxFrameLength {
		return Header{}, perr.NewProtocolError("frame.header.length", fmt.Errorf("frame length %d exceeds max %d", h.Length, MaxFrameLength))
	}
	return h, nil
}

// ShmRef is the (pool id, block id, offset, length) quadruple substituted
// for a raw payload when the peer advertises SHM support.
type ShmRef struct {
	PoolID  uint32
	BlockID uint32
	Offset  uint32
	Length  uint32
}

const shmRefSize = 4 * 4

// EncodeShmRef writes a ShmRef as a frame's payload.
func EncodeShmRef(w io.Writer, ref ShmRef) error {
	var buf [shmRefSize]byte
	binary.BigEndian.PutUint32(buf[0:4], ref.PoolID)
	binary.BigEndian.PutUint32(buf[4:8], ref.BlockID)
	binary.BigEndian.PutUint32(buf[8:12], ref.Offset)
	binary.BigEndian.PutUint32(buf[12:16], ref.Length)
	if _, err := w.Write(buf[:]); err != nil {
		return perr.NewInternal("frame.shmref.write", err)
	}
	return nil
}

// DecodeShmRef reads a ShmRef payload of exactly shmRefSize bytes.
func DecodeShmRef(payload []byte) (ShmRef, error) {
	if len(payload) != shmRefSize {
		return ShmRef{}, perr.NewProtocolError("frame.shmref.decode", fmt.Errorf("expected %d bytes, got %d", shmRefSize, len(payload)))
	}
	return ShmRef{
		PoolID:  binary.BigEndian.Uint32(payload[0:4]),
		BlockID: binary.BigEndian.Uint32(payload[4:8]),
		Offset:  binary.BigEndian.Uint32(payload[8:12]),
		Length:  binary.BigEndian.Uint32(payload[12:16]),
	}, nil
}
