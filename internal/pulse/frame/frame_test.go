package frame

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Flags: FlagSHMData | FlagSeekAbsolute, Channel: 7, Offset: 123456789, Length: 42}

	var buf bytes.Buffer
	if err := EncodeHeader(&buf, h); err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}

	got, err := DecodeHeader(&buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Fatalf("DecodeHeader = %+v, want %+v", got, h)
	}
}

func TestHeaderKindClassification(t *testing.T) {
	cases := []struct {
		channel uint32
		want    Kind
	}{
		{ChannelCommand, KindPacket},
		{ChannelControl, KindControl},
		{42, KindMemblock},
	}
	for _, tc := range cases {
		h := Header{Channel: tc.channel}
		if got := h.Kind(); got != tc.want {
			t.Errorf("Header{Channel:%d}.Kind() = %v, want %v", tc.channel, got, tc.want)
		}
	}
}

func TestDecodeHeaderRejectsOversizedLength(t *testing.T) {
	h := Header{Channel: 1, Length: MaxFrameLength + 1}
	var buf bytes.Buffer
	if err := EncodeHeader(&buf, h); err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	if _, err := DecodeHeader(&buf); err == nil {
		t.Fatalf("expected error for oversized length")
	}
}

func TestShmRefRoundTrip(t *testing.T) {
	ref := ShmRef{PoolID: 1, BlockID: 99, Offset: 4096, Length: 8192}
	var buf bytes.Buffer
	if err := EncodeShmRef(&buf, ref); err != nil {
		t.Fatalf("EncodeShmRef: %v", err)
	}
	got, err := DecodeShmRef(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeShmRef: %v", err)
	}
	if got != ref {
		t.Fatalf("DecodeShmRef = %+v, want %+v", got, ref)
	}
}

func TestControlRoundTrip(t *testing.T) {
	c := Control{Op: ControlReleaseBlock, PoolID: 3, BlockID: 17}
	payload := EncodeControl(c)
	got, err := DecodeControl(payload)
	if err != nil {
		t.Fatalf("DecodeControl: %v", err)
	}
	if got != c {
		t.Fatalf("DecodeControl = %+v, want %+v", got, c)
	}
}
