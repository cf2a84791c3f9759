// Package stream implements PlaybackStream and RecordStream: the client-
// push/mixer-pull and mixer-push/client-pull pipelines built on top of a
// BufferQueue, a mixer.SinkInput or mixer.SourceOutput handle, and the
// flow-control bookkeeping described in the native protocol core.
package stream

import (
	"time"

	"github.com/alxayo/pulsenative/internal/pulse/bufferqueue"
	"github.com/alxayo/pulsenative/internal/pulse/sampleformat"
)

// Constants confirmed against the reference implementation's
// protocol-native.c: 2 s default target fill, 20 ms default processing
// granularity, and a fragsize default that mirrors tlength's.
const (
	DefaultTlengthMsec  = 2000
	DefaultProcessMsec  = 20
	DefaultFragsizeMsec = DefaultTlengthMsec
)

// LatencyMode selects how RequestedAttr derives its target sink latency.
type LatencyMode uint8

const (
	LatencyTraditional LatencyMode = iota
	LatencyAdjust
	LatencyEarlyRequests
)

// RequestedAttr is a client's buffer-attribute request, with "unspecified"
// fields represented as the wire's all-ones sentinel (math.MaxUint32),
// matching PA_INVALID_INDEX's use as a generic "not specified" marker for
// these fields.
type RequestedAttr struct {
	MaxLength uint32
	Tlength   uint32
	Prebuf    uint32
	Minreq    uint32
	Fragsize  uint32
}

const unspecified = 0xFFFFFFFF

func isUnspecified(v uint32) bool { return v == unspecified }

// ResolvePlaybackAttr implements §4.5.1's buffer-attribute resolution. It
// does not itself ask the sink to realise a latency — that's steps 6-7,
// performed by the caller since it requires a live mixer.Sink handle
// (TargetSinkLatency computes the value to request) — callers call
// ResolvePlaybackAttr, then realise the sink latency, then
// FinalizePlaybackAttr.
func ResolvePlaybackAttr(req RequestedAttr, ss sampleformat.Spec, mode LatencyMode) bufferqueue.Attr {
	frame := uint32(ss.FrameSize())

	maxlength := req.MaxLength
	switch {
	case isUnspecified(maxlength):
		maxlength = bufferqueue.MaxLength
	case maxlength == 0:
		maxlength = frame
	case maxlength > bufferqueue.MaxLength:
		maxlength = bufferqueue.MaxLength
	}

	tlength := req.Tlength
	if isUnspecified(tlength) || tlength == 0 || tlength > maxlength {
		tlength = uint32(ss.UsecToBytes(DefaultTlengthMsec * 1000))
		if tlength > maxlength {
			tlength = maxlength
		}
	}

	minreq := req.Minreq
	if isUnspecified(minreq) {
		twentyMs := uint32(ss.UsecToBytes(DefaultProcessMsec * 1000))
		quarter := tlength / 4
		minreq = twentyMs
		if quarter < minreq {
			minreq = quarter
		}
		minreq -= minreq % frame
	}

	if tlength < minreq+frame {
		tlength = minreq + frame
		if tlength > maxlength {
			tlength = maxlength
		}
	}

	return bufferqueue.Attr{
		MaxLength: maxlength,
		Tlength:   tlength,
		Prebuf:    req.Prebuf, // finalised by FinalizePlaybackAttr below
		Minreq:    minreq,
	}
}

// TargetSinkLatency computes the latency to request from the sink (step 5).
func TargetSinkLatency(attr bufferqueue.Attr, ss sampleformat.Spec, mode LatencyMode) time.Duration {
	tlenUsec := ss.BytesToUsec(uint64(attr.Tlength))
	minreqUsec := ss.BytesToUsec(uint64(attr.Minreq))

	var usec int64
	switch mode {
	case LatencyEarlyRequests:
		usec = int64(minreqUsec)
	case LatencyAdjust:
		usec = (int64(tlenUsec) - 2*int64(minreqUsec)) / 2
	default:
		usec = int64(tlenUsec) - 2*int64(minreqUsec)
	}
	if usec < 0 {
		usec = 0
	}
	return time.Duration(usec) * time.Microsecond
}

// FinalizePlaybackAttr applies steps 7-8: in adjust-latency mode, reduce
// tlength by the sink's configured latency, re-enforce the lower bound, and
// clamp prebuf. req.Prebuf carries the client's original request (possibly
// unspecified) since attr.Prebuf was not yet resolved by ResolvePlaybackAttr.
func FinalizePlaybackAttr(attr bufferqueue.Attr, req RequestedAttr, ss sampleformat.Spec, mode LatencyMode, configuredSinkLatency time.Duration) bufferqueue.Attr {
	frame := uint32(ss.FrameSize())

	if mode == LatencyAdjust {
		reduceBy := uint32(ss.UsecToBytes(uint64(configuredSinkLatency / time.Microsecond)))
		if reduceBy < attr.Tlength {
			attr.Tlength -= reduceBy
		} else {
			attr.Tlength = frame
		}
	}
	if attr.Tlength < attr.Minreq+frame {
		attr.Tlength = attr.Minreq + frame
	}
	if attr.Tlength > attr.MaxLength {
		attr.Tlength = attr.MaxLength
	}

	upperBound := attr.Tlength + frame - attr.Minreq
	prebuf := req.Prebuf
	if isUnspecified(prebuf) {
		prebuf = upperBound
	} else if prebuf > upperBound {
		prebuf = upperBound
	}
	attr.Prebuf = prebuf
	return attr
}

// ResolveRecordAttr implements the record-side mirror of §4.5.1 named in
// §4.6: only fragsize is client-configurable; tlength/prebuf/minreq play no
// role on the capture side, matching the real protocol's "creation mirrors
// §4.5 minus prebuf/tlength/minreq" rule.
func ResolveRecordAttr(req RequestedAttr, ss sampleformat.Spec) bufferqueue.Attr {
	frame := uint32(ss.FrameSize())

	maxlength := req.MaxLength
	switch {
	case isUnspecified(maxlength):
		maxlength = bufferqueue.MaxLength
	case maxlength == 0:
		maxlength = frame
	case maxlength > bufferqueue.MaxLength:
		maxlength = bufferqueue.MaxLength
	}

	fragsize := req.Fragsize
	if isUnspecified(fragsize) || fragsize == 0 {
		fragsize = uint32(ss.UsecToBytes(DefaultFragsizeMsec * 1000))
	}
	if fragsize > maxlength {
		fragsize = maxlength
	}
	fragsize -= fragsize % frame
	if fragsize == 0 {
		fragsize = frame
	}

	return bufferqueue.Attr{
		MaxLength: maxlength,
		Fragsize:  fragsize,
	}
}
