package tagstruct

import (
	"testing"
	"time"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"github.com/alxayo/pulsenative/internal/pulse/sampleformat"
)

func TestScalarRoundTrip(t *testing.T) {
	var w Writer
	w.PutU8(42)
	w.PutU32(123456)
	w.PutU64(1 << 40)
	w.PutS64(-1000)
	w.PutBool(true)
	w.PutBool(false)

	r := NewReader(w.Bytes())

	if v, err := r.GetU8(); err != nil || v != 42 {
		t.Fatalf("GetU8 = %d, %v", v, err)
	}
	if v, err := r.GetU32(); err != nil || v != 123456 {
		t.Fatalf("GetU32 = %d, %v", v, err)
	}
	if v, err := r.GetU64(); err != nil || v != 1<<40 {
		t.Fatalf("GetU64 = %d, %v", v, err)
	}
	if v, err := r.GetS64(); err != nil || v != -1000 {
		t.Fatalf("GetS64 = %d, %v", v, err)
	}
	if v, err := r.GetBool(); err != nil || v != true {
		t.Fatalf("GetBool = %v, %v", v, err)
	}
	if v, err := r.GetBool(); err != nil || v != false {
		t.Fatalf("GetBool = %v, %v", v, err)
	}
	if !r.Eof() {
		t.Fatalf("expected reader exhausted")
	}
}

func TestStringRoundTrip(t *testing.T) {
	var w Writer
	w.PutString("hello")
	w.PutStringNull()
	w.PutString("")

	r := NewReader(w.Bytes())
	s, ok, err := r.GetString()
	if err != nil || !ok || s != "hello" {
		t.Fatalf("GetString = %q, %v, %v", s, ok, err)
	}
	s, ok, err = r.GetString()
	if err != nil || ok {
		t.Fatalf("expected null string, got %q, %v, %v", s, ok, err)
	}
	s, ok, err = r.GetString()
	if err != nil || !ok || s != "" {
		t.Fatalf("GetString empty = %q, %v, %v", s, ok, err)
	}
}

func TestArbitraryRoundTrip(t *testing.T) {
	var w Writer
	payload := []byte{1, 2, 3, 4, 5}
	w.PutArbitrary(payload)

	r := NewReader(w.Bytes())
	got, err := r.GetArbitrary()
	if err != nil {
		t.Fatalf("GetArbitrary: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("GetArbitrary = %v, want %v", got, payload)
	}
}

func TestTimevalAndUsecRoundTrip(t *testing.T) {
	var w Writer
	ts := time.Unix(1700000000, 123000).UTC()
	w.PutTimeval(ts)
	w.PutUsec(2500 * time.Microsecond)

	r := NewReader(w.Bytes())
	gotTS, err := r.GetTimeval()
	if err != nil {
		t.Fatalf("GetTimeval: %v", err)
	}
	if !gotTS.Equal(ts) {
		t.Fatalf("GetTimeval = %v, want %v", gotTS, ts)
	}
	gotUsec, err := r.GetUsec()
	if err != nil {
		t.Fatalf("GetUsec: %v", err)
	}
	if gotUsec != 2500*time.Microsecond {
		t.Fatalf("GetUsec = %v, want 2500us", gotUsec)
	}
}

func TestSampleSpecRoundTrip(t *testing.T) {
	var w Writer
	spec := sampleformat.Spec{Format: sampleformat.S16LE, Rate: 44100, Channels: 2}
	w.PutSampleSpec(spec)

	r := NewReader(w.Bytes())
	got, err := r.GetSampleSpec()
	if err != nil {
		t.Fatalf("GetSampleSpec: %v", err)
	}
	if got != spec {
		t.Fatalf("GetSampleSpec = %+v, want %+v", got, spec)
	}
}

func TestSampleSpecRejectsInvalid(t *testing.T) {
	var w Writer
	w.PutSampleSpec(sampleformat.Spec{Format: sampleformat.Format(0xaa), Rate: 44100, Channels: 2})

	r := NewReader(w.Bytes())
	if _, err := r.GetSampleSpec(); !perr.IsProtocolError(err) {
		t.Fatalf("expected ProtocolError for invalid spec, got %v", err)
	}
}

func TestChannelMapAndVolumeRoundTrip(t *testing.T) {
	var w Writer
	cm := sampleformat.DefaultChannelMap(2)
	w.PutChannelMap(cm)
	w.PutVolume(NormVolume)
	w.PutCVolume(CVolume{Values: []Volume{NormVolume, NormVolume / 2}})

	r := NewReader(w.Bytes())
	gotMap, err := r.GetChannelMap()
	if err != nil {
		t.Fatalf("GetChannelMap: %v", err)
	}
	if len(gotMap.Positions) != 2 {
		t.Fatalf("unexpected map length %d", len(gotMap.Positions))
	}
	vol, err := r.GetVolume()
	if err != nil || vol != NormVolume {
		t.Fatalf("GetVolume = %v, %v", vol, err)
	}
	cv, err := r.GetCVolume()
	if err != nil {
		t.Fatalf("GetCVolume: %v", err)
	}
	if len(cv.Values) != 2 || cv.Values[0] != NormVolume {
		t.Fatalf("unexpected cvolume %+v", cv)
	}
}

func TestPropListRoundTrip(t *testing.T) {
	var w Writer
	p := PropList{}
	p.Set("application.name", []byte("testapp"))
	p.Set("media.role", []byte("music"))
	w.PutPropList(p)

	r := NewReader(w.Bytes())
	got, err := r.GetPropList()
	if err != nil {
		t.Fatalf("GetPropList: %v", err)
	}
	v, ok := got.Get("application.name")
	if !ok || string(v) != "testapp" {
		t.Fatalf("application.name = %q, %v", v, ok)
	}
	v, ok = got.Get("media.role")
	if !ok || string(v) != "music" {
		t.Fatalf("media.role = %q, %v", v, ok)
	}
}

func TestFormatInfoRoundTrip(t *testing.T) {
	var w Writer
	p := PropList{}
	p.Set("format.sample_format", []byte("s16le"))
	f := FormatInfo{Encoding: 1, Properties: p}
	w.PutFormatInfo(f)

	r := NewReader(w.Bytes())
	got, err := r.GetFormatInfo()
	if err != nil {
		t.Fatalf("GetFormatInfo: %v", err)
	}
	if got.Encoding != 1 {
		t.Fatalf("Encoding = %d, want 1", got.Encoding)
	}
	v, ok := got.Properties.Get("format.sample_format")
	if !ok || string(v) != "s16le" {
		t.Fatalf("unexpected property %q, %v", v, ok)
	}
}

func TestTruncatedPayloadIsProtocolError(t *testing.T) {
	var w Writer
	w.PutU32(1)
	truncated := w.Bytes()[:2] // tag + 1 of 4 length bytes

	r := NewReader(truncated)
	_, err := r.GetU32()
	if !perr.IsProtocolError(err) {
		t.Fatalf("expected ProtocolError for truncated payload, got %v", err)
	}
}

func TestWrongTagIsProtocolError(t *testing.T) {
	var w Writer
	w.PutString("oops")

	r := NewReader(w.Bytes())
	if _, err := r.GetU32(); !perr.IsProtocolError(err) {
		t.Fatalf("expected ProtocolError for tag mismatch, got %v", err)
	}
}

func TestMixedSequenceRoundTrip(t *testing.T) {
	var w Writer
	w.PutString("stream-name")
	w.PutSampleSpec(sampleformat.Spec{Format: sampleformat.FLOAT32LE, Rate: 48000, Channels: 1})
	w.PutU32(4096)
	w.PutBool(true)

	r := NewReader(w.Bytes())
	name, ok, err := r.GetString()
	if err != nil || !ok || name != "stream-name" {
		t.Fatalf("name = %q %v %v", name, ok, err)
	}
	if _, err := r.GetSampleSpec(); err != nil {
		t.Fatalf("GetSampleSpec: %v", err)
	}
	if v, err := r.GetU32(); err != nil || v != 4096 {
		t.Fatalf("GetU32 = %d, %v", v, err)
	}
	if v, err := r.GetBool(); err != nil || !v {
		t.Fatalf("GetBool = %v, %v", v, err)
	}
	if !r.Eof() {
		t.Fatalf("expected eof")
	}
}
