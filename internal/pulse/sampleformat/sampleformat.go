// Package sampleformat defines the closed set of sample encodings and the
// SampleSpec/ChannelMap data-model types (spec.md §3) plus the per-format
// constants (frame size, silence fill byte) the rest of the core needs
// without depending on the out-of-scope conversion kernels (§1 Non-goals).
package sampleformat

import (
	"fmt"

	perr "github.com/alxayo/pulsenative/internal/errors"
)

// Format is one of the closed set of wire sample formats. Values are
// preserved bit-exact with the reference implementation's enumeration.
type Format uint8

const (
	U8 Format = iota
	ALAW
	ULAW
	S16LE
	S16BE
	FLOAT32LE
	FLOAT32BE
	S32LE
	S32BE
	S24LE
	S24BE
	S24_32LE
	S24_32BE
	Invalid Format = 0xff
)

// MaxChannels is PA_CHANNELS_MAX.
const MaxChannels = 32

func (f Format) String() string {
	switch f {
	case U8:
		return "u8"
	case ALAW:
		return "alaw"
	case ULAW:
		return "ulaw"
	case S16LE:
		return "s16le"
	case S16BE:
		return "s16be"
	case FLOAT32LE:
		return "float32le"
	case FLOAT32BE:
		return "float32be"
	case S32LE:
		return "s32le"
	case S32BE:
		return "s32be"
	case S24LE:
		return "s24le"
	case S24BE:
		return "s24be"
	case S24_32LE:
		return "s24-32le"
	case S24_32BE:
		return "s24-32be"
	default:
		return "invalid"
	}
}

// BytesPerSample returns the size in bytes of a single sample in this format.
func (f Format) BytesPerSample() int {
	switch f {
	case U8, ALAW, ULAW:
		return 1
	case S16LE, S16BE:
		return 2
	case S24LE, S24BE:
		return 3
	case FLOAT32LE, FLOAT32BE, S32LE, S32BE, S24_32LE, S24_32BE:
		return 4
	default:
		return 0
	}
}

// SilenceByte returns the byte value used to fill gaps with silence in this
// format. Linear PCM formats use zero; the two companded formats have a
// non-zero digital-silence code point.
func (f Format) SilenceByte() byte {
	switch f {
	case U8:
		return 0x80
	case ALAW:
		return 0xd5
	case ULAW:
		return 0xff
	default:
		return 0x00
	}
}

func (f Format) valid() bool { return f.BytesPerSample() > 0 }

// Spec is the (format, rate, channels) triple negotiated for a stream.
type Spec struct {
	Format   Format
	Rate     uint32
	Channels uint8
}

// Valid validates the spec per §3: format drawn from the closed set,
// channel count 1..MaxChannels, and a non-zero sample rate.
func (s Spec) Valid() error {
	if !s.Format.valid() {
		return perr.NewInvalid("samplespec.validate", fmt.Errorf("unknown format %v", s.Format))
	}
	if s.Channels < 1 || s.Channels > MaxChannels {
		return perr.NewInvalid("samplespec.validate", fmt.Errorf("channels %d out of range", s.Channels))
	}
	if s.Rate == 0 {
		return perr.NewInvalid("samplespec.validate", fmt.Errorf("rate must be non-zero"))
	}
	return nil
}

// FrameSize is the number of bytes in one frame (one sample per channel).
func (s Spec) FrameSize() int {
	return s.Format.BytesPerSample() * int(s.Channels)
}

// BytesToUsec converts a byte count to microseconds at this spec's rate.
func (s Spec) BytesToUsec(bytes uint64) uint64 {
	fs := uint64(s.FrameSize())
	if fs == 0 || s.Rate == 0 {
		return 0
	}
	frames := bytes / fs
	return frames * 1_000_000 / uint64(s.Rate)
}

// UsecToBytes converts a microsecond duration to a byte count at this spec's
// rate, rounded down to a whole frame.
func (s Spec) UsecToBytes(usec uint64) uint64 {
	fs := uint64(s.FrameSize())
	if fs == 0 {
		return 0
	}
	frames := usec * uint64(s.Rate) / 1_000_000
	return frames * fs
}

// UsecToBytesRoundUp is as UsecToBytes but rounds the frame count up.
func (s Spec) UsecToBytesRoundUp(usec uint64) uint64 {
	fs := uint64(s.FrameSize())
	if fs == 0 {
		return 0
	}
	num := usec * uint64(s.Rate)
	frames := num / 1_000_000
	if num%1_000_000 != 0 {
		frames++
	}
	return frames * fs
}

// AlignDown rounds n down to the nearest whole frame for this spec.
func (s Spec) AlignDown(n uint64) uint64 {
	fs := uint64(s.FrameSize())
	if fs == 0 {
		return n
	}
	return (n / fs) * fs
}

// ChannelMap assigns a logical position to each channel. The position set is
// deliberately left open (unlike Format) since channel-mapping semantics are
// an external collaborator concern (§1 Non-goals: remap* internals); the
// core only needs to carry the map through, validate its length, and encode
// it on the wire.
type ChannelMap struct {
	Positions []uint8
}

// Valid checks the channel map's length matches the spec and the count is in range.
func (c ChannelMap) Valid(channels uint8) error {
	if len(c.Positions) != int(channels) {
		return perr.NewInvalid("channelmap.validate", fmt.Errorf("map has %d positions, want %d", len(c.Positions), channels))
	}
	if channels < 1 || channels > MaxChannels {
		return perr.NewInvalid("channelmap.validate", fmt.Errorf("channels %d out of range", channels))
	}
	return nil
}

// DefaultChannelMap builds a plausible default map (mono/stereo/standard
// surround positions fall through to "aux" positions beyond 8 channels).
func DefaultChannelMap(channels uint8) ChannelMap {
	base := []uint8{0, 1, 2, 3, 4, 5, 6, 7} // front-left, front-right, ... per position enum
	m := make([]uint8, channels)
	for i := range m {
		if i < len(base) {
			m[i] = base[i]
		} else {
			m[i] = uint8(0x40 + i) // aux0..auxN
		}
	}
	return ChannelMap{Positions: m}
}
