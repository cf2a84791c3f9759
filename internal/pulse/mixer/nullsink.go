package mixer

import (
	"fmt"
	"sync"
	"time"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"github.com/alxayo/pulsenative/internal/pulse/sampleformat"
)

// invalidIndex is the wire sentinel for "look up by name, not index"
// (PA_INVALID_INDEX), matching the convention used throughout this module's
// lookup commands.
const invalidIndex uint32 = 0xFFFFFFFF

// nullDevice is the shared state behind nullSink/nullSource: a discard
// endpoint that accepts attachments and reports its current latency (20 ms
// until RequestLatency sets another value), the way
// PulseAudio's module-null-sink gives a connection somewhere to attach
// streams without any real audio hardware. Real device I/O is out of scope
// for this core (spec.md §1 Non-goals, "anything below the mixer
// abstraction"); this exists only so ProtocolService has a Registry it can
// actually run against.
type nullDevice struct {
	name  string
	index uint32
	spec  sampleformat.Spec

	mu        sync.Mutex
	nextIndex uint32
	suspended bool
	latency   time.Duration
}

func newNullDevice(name string, index uint32, spec sampleformat.Spec) *nullDevice {
	return &nullDevice{name: name, index: index, spec: spec, latency: 20 * time.Millisecond}
}

func (d *nullDevice) Name() string                 { return d.name }
func (d *nullDevice) Index() uint32                { return d.index }
func (d *nullDevice) SampleSpec() sampleformat.Spec { return d.spec }
func (d *nullDevice) Latency() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latency
}
func (d *nullDevice) RequestLatency(want time.Duration) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latency = want
	return d.latency
}
func (d *nullDevice) Suspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspended
}
func (d *nullDevice) attach() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextIndex++
	return d.nextIndex
}

// NullSink is a discard playback device: it accepts SinkInput attachments
// and reports its current latency but never actually pulls audio, since the
// mixer I/O domain is an external collaborator out of scope for this core.
type NullSink struct{ *nullDevice }

func (s *NullSink) NewInput(SinkInput) (uint32, error) { return s.attach(), nil }
func (s *NullSink) RemoveInput(SinkInput)              {}

// NullSource is a discard capture device, mirroring NullSink.
type NullSource struct{ *nullDevice }

func (s *NullSource) NewOutput(SourceOutput) (uint32, error) { return s.attach(), nil }
func (s *NullSource) RemoveOutput(SourceOutput)              {}

// NullRegistry is a minimal, always-available Registry backed by one null
// sink and one null source, keyed by name (and by index, once assigned).
// It exists so a deployment with no real audio backend wired in yet can
// still bring up ProtocolService end to end.
type NullRegistry struct {
	mu           sync.Mutex
	sinks        map[string]*NullSink
	sources      map[string]*NullSource
	sinksByIdx   map[uint32]*NullSink
	sourcesByIdx map[uint32]*NullSource

	defaultSink, defaultSource string
}

// NewNullRegistry creates a registry with a single sink and source named
// "null-sink"/"null-source", both set as the default.
func NewNullRegistry(spec sampleformat.Spec) *NullRegistry {
	sink := &NullSink{newNullDevice("null-sink", 1, spec)}
	source := &NullSource{newNullDevice("null-source", 1, spec)}
	return &NullRegistry{
		sinks:        map[string]*NullSink{"null-sink": sink},
		sources:      map[string]*NullSource{"null-source": source},
		sinksByIdx:    map[uint32]*NullSink{1: sink},
		sourcesByIdx:  map[uint32]*NullSource{1: source},
		defaultSink:   "null-sink",
		defaultSource: "null-source",
	}
}

func (r *NullRegistry) LookupSink(index uint32, name string) (Sink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index != invalidIndex {
		if s, ok := r.sinksByIdx[index]; ok {
			return s, nil
		}
		return nil, perr.NewNoEntity("mixer.null_registry.lookup_sink", fmt.Errorf("no sink with index %d", index))
	}
	if name == "" || name == "@DEFAULT_SINK@" {
		name = r.defaultSink
	}
	if s, ok := r.sinks[name]; ok {
		return s, nil
	}
	return nil, perr.NewNoEntity("mixer.null_registry.lookup_sink", fmt.Errorf("no sink named %q", name))
}

func (r *NullRegistry) LookupSource(index uint32, name string) (Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index != invalidIndex {
		if s, ok := r.sourcesByIdx[index]; ok {
			return s, nil
		}
		return nil, perr.NewNoEntity("mixer.null_registry.lookup_source", fmt.Errorf("no source with index %d", index))
	}
	if name == "" || name == "@DEFAULT_SOURCE@" {
		name = r.defaultSource
	}
	if s, ok := r.sources[name]; ok {
		return s, nil
	}
	return nil, perr.NewNoEntity("mixer.null_registry.lookup_source", fmt.Errorf("no source named %q", name))
}

func (r *NullRegistry) DefaultSinkName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultSink
}

func (r *NullRegistry) DefaultSourceName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultSource
}
