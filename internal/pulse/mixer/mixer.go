// Package mixer declares the collaborator interfaces PlaybackStream and
// RecordStream consume from the audio mixing domain. The mixer itself —
// device I/O, hardware timing, resampling, volume/remap kernels — is an
// external collaborator out of scope for this core; only the boundary the
// core calls across is defined here.
package mixer

import (
	"time"

	"github.com/alxayo/pulsenative/internal/pulse/sampleformat"
)

// Chunk is the unit of audio data crossing the mixer boundary: a byte span
// the caller owns for the duration of the call.
type Chunk struct {
	Data   []byte
	Length uint32
}

// SinkInput is a playback stream's handle into a sink. The mixer I/O
// domain calls Pop/ProcessRewind/UpdateMaxRewind/UpdateMaxRequest/
// ProcessUnderrun/Suspend/Moving on its own thread; PlaybackStream
// implements this interface and the sink holds a back-pointer to it,
// cleared atomically on Unlink (see spec §9 "weak back-reference").
type SinkInput interface {
	// Pop asks the stream for up to length bytes to mix. ok is false if the
	// stream has no data ready (the caller should treat this as underrun,
	// not an error).
	Pop(length uint32) (chunk Chunk, ok bool)
	// ProcessRewind asks the stream to rewind its playback position by
	// nbytes, e.g. after a client seek or a mixer-side rewrite request.
	ProcessRewind(nbytes uint64)
	// UpdateMaxRewind informs the stream how many bytes of rewind the sink
	// can currently support.
	UpdateMaxRewind(nbytes uint64)
	// UpdateMaxRequest informs the stream of the sink's current max request
	// size, used to recompute flow-control targets.
	UpdateMaxRequest(nbytes uint64)
	// ProcessUnderrun notifies the stream that the sink ran dry.
	ProcessUnderrun()
	// Suspend notifies the stream that the sink suspended or resumed.
	Suspend(suspended bool)
	// Moving notifies the stream that it is being attached to a new sink
	// (nil means it has just been detached and has no destination yet).
	Moving(to Sink)
}

// SourceOutput is a record stream's handle into a source, mirroring
// SinkInput for the capture direction.
type SourceOutput interface {
	// Push delivers a chunk of freshly captured audio to the stream.
	Push(chunk Chunk)
	Suspend(suspended bool)
	Moving(to Source)
}

// Sink is the mixer-side playback device a SinkInput attaches to.
type Sink interface {
	Name() string
	Index() uint32
	SampleSpec() sampleformat.Spec
	// Latency reports the sink's current output latency.
	Latency() time.Duration
	// RequestLatency asks the sink to realise as close to want as it can,
	// returning what it actually configured.
	RequestLatency(want time.Duration) time.Duration
	// NewInput attaches a SinkInput to this sink, returning an index the
	// stream can report back to the client.
	NewInput(SinkInput) (index uint32, err error)
	// RemoveInput detaches a previously attached SinkInput.
	RemoveInput(SinkInput)
	Suspended() bool
}

// Source is the mixer-side capture device a SourceOutput attaches to.
type Source interface {
	Name() string
	Index() uint32
	SampleSpec() sampleformat.Spec
	Latency() time.Duration
	RequestLatency(want time.Duration) time.Duration
	NewOutput(SourceOutput) (index uint32, err error)
	RemoveOutput(SourceOutput)
	Suspended() bool
}

// Registry resolves a sink or source by index or by name, including the
// "@DEFAULT_SINK@" / "@DEFAULT_SOURCE@" wildcards, matching spec §4.7.2's
// "index or name-or-wildcard, never both" lookup rule.
type Registry interface {
	LookupSink(index uint32, name string) (Sink, error)
	LookupSource(index uint32, name string) (Source, error)
	DefaultSinkName() string
	DefaultSourceName() string
}
