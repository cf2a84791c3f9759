package tagstruct

import (
	"encoding/binary"
	"fmt"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"github.com/alxayo/pulsenative/internal/pulse/sampleformat"
)

// PutSampleSpec appends a (format, channels, rate) triple.
func (w *Writer) PutSampleSpec(s sampleformat.Spec) {
	w.putTag(TagSampleSpec)
	w.buf.WriteByte(byte(s.Format))
	w.buf.WriteByte(s.Channels)
	var rate [4]byte
	binary.BigEndian.PutUint32(rate[:], s.Rate)
	w.buf.Write(rate[:])
}

// GetSampleSpec reads a sample spec, validating its contents.
func (r *Reader) GetSampleSpec() (sampleformat.Spec, error) {
	if err := r.expectTag("decode.samplespec.tag", TagSampleSpec); err != nil {
		return sampleformat.Spec{}, err
	}
	b, err := r.readN("decode.samplespec.value", 6)
	if err != nil {
		return sampleformat.Spec{}, err
	}
	spec := sampleformat.Spec{
		Format:   sampleformat.Format(b[0]),
		Channels: b[1],
		Rate:     binary.BigEndian.Uint32(b[2:6]),
	}
	if err := spec.Valid(); err != nil {
		return sampleformat.Spec{}, perr.NewProtocolError("decode.samplespec.validate", err)
	}
	return spec, nil
}

// PutChannelMap appends a channel position map.
func (w *Writer) PutChannelMap(m sampleformat.ChannelMap) {
	w.putTag(TagChannelMap)
	w.buf.WriteByte(uint8(len(m.Positions)))
	w.buf.Write(m.Positions)
}

// GetChannelMap reads a channel position map.
func (r *Reader) GetChannelMap() (sampleformat.ChannelMap, error) {
	if err := r.expectTag("decode.channelmap.tag", TagChannelMap); err != nil {
		return sampleformat.ChannelMap{}, err
	}
	n, err := r.readByte("decode.channelmap.length")
	if err != nil {
		return sampleformat.ChannelMap{}, err
	}
	if n > sampleformat.MaxChannels {
		return sampleformat.ChannelMap{}, perr.NewProtocolError("decode.channelmap.length", fmt.Errorf("channel count %d exceeds max %d", n, sampleformat.MaxChannels))
	}
	positions, err := r.readN("decode.channelmap.positions", int(n))
	if err != nil {
		return sampleformat.ChannelMap{}, err
	}
	return sampleformat.ChannelMap{Positions: positions}, nil
}

// Volume is a single channel's linear volume value (PA_VOLUME_NORM == 0x10000).
type Volume uint32

// NormVolume is the "unity gain" volume level.
const NormVolume Volume = 0x10000

// PutVolume appends a single volume value.
func (w *Writer) PutVolume(v Volume) {
	w.putTag(TagVolume)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

// GetVolume reads a single volume value.
func (r *Reader) GetVolume() (Volume, error) {
	if err := r.expectTag("decode.volume.tag", TagVolume); err != nil {
		return 0, err
	}
	b, err := r.readN("decode.volume.value", 4)
	if err != nil {
		return 0, err
	}
	return Volume(binary.BigEndian.Uint32(b)), nil
}

// CVolume is a per-channel volume vector, one entry per channel of the
// stream it describes.
type CVolume struct {
	Values []Volume
}

// PutCVolume appends a per-channel volume vector.
func (w *Writer) PutCVolume(v CVolume) {
	w.putTag(TagCVolume)
	w.buf.WriteByte(uint8(len(v.Values)))
	for _, vol := range v.Values {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(vol))
		w.buf.Write(b[:])
	}
}

// GetCVolume reads a per-channel volume vector.
func (r *Reader) GetCVolume() (CVolume, error) {
	if err := r.expectTag("decode.cvolume.tag", TagCVolume); err != nil {
		return CVolume{}, err
	}
	n, err := r.readByte("decode.cvolume.length")
	if err != nil {
		return CVolume{}, err
	}
	if n > sampleformat.MaxChannels {
		return CVolume{}, perr.NewProtocolError("decode.cvolume.length", fmt.Errorf("channel count %d exceeds max %d", n, sampleformat.MaxChannels))
	}
	vals := make([]Volume, n)
	for i := range vals {
		b, err := r.readN("decode.cvolume.value", 4)
		if err != nil {
			return CVolume{}, err
		}
		vals[i] = Volume(binary.BigEndian.Uint32(b))
	}
	return CVolume{Values: vals}, nil
}

// FormatInfo names a codec encoding plus its negotiable properties, used by
// the extended (post-passthrough) stream-creation commands.
type FormatInfo struct {
	Encoding   uint8
	Properties PropList
}

// PutFormatInfo appends a format-info value: an encoding byte followed by
// its property list.
func (w *Writer) PutFormatInfo(f FormatInfo) {
	w.putTag(TagFormatInfo)
	w.buf.WriteByte(f.Encoding)
	w.putPropListBody(f.Properties)
}

// GetFormatInfo reads a format-info value.
func (r *Reader) GetFormatInfo() (FormatInfo, error) {
	if err := r.expectTag("decode.formatinfo.tag", TagFormatInfo); err != nil {
		return FormatInfo{}, err
	}
	enc, err := r.readByte("decode.formatinfo.encoding")
	if err != nil {
		return FormatInfo{}, err
	}
	props, err := r.getPropListBody()
	if err != nil {
		return FormatInfo{}, err
	}
	return FormatInfo{Encoding: enc, Properties: props}, nil
}
