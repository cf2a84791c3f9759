package mixer

import (
	"testing"

	"github.com/alxayo/pulsenative/internal/pulse/sampleformat"
)

func testSpec() sampleformat.Spec {
	return sampleformat.Spec{Format: sampleformat.FLOAT32LE, Channels: 2, Rate: 44100}
}

func TestNullRegistryDefaultLookup(t *testing.T) {
	reg := NewNullRegistry(testSpec())

	sink, err := reg.LookupSink(invalidIndex, "")
	if err != nil {
		t.Fatalf("LookupSink(default) error: %v", err)
	}
	if sink.Name() != "null-sink" {
		t.Fatalf("sink name = %q, want null-sink", sink.Name())
	}

	source, err := reg.LookupSource(invalidIndex, "@DEFAULT_SOURCE@")
	if err != nil {
		t.Fatalf("LookupSource(@DEFAULT_SOURCE@) error: %v", err)
	}
	if source.Name() != "null-source" {
		t.Fatalf("source name = %q, want null-source", source.Name())
	}
}

func TestNullRegistryLookupByIndex(t *testing.T) {
	reg := NewNullRegistry(testSpec())
	sink, err := reg.LookupSink(1, "")
	if err != nil {
		t.Fatalf("LookupSink(1) error: %v", err)
	}
	if sink.Index() != 1 {
		t.Fatalf("sink index = %d, want 1", sink.Index())
	}
}

func TestNullRegistryUnknownName(t *testing.T) {
	reg := NewNullRegistry(testSpec())
	if _, err := reg.LookupSink(invalidIndex, "nonexistent"); err == nil {
		t.Fatal("expected lookup of an unknown sink name to fail")
	}
}

func TestNullSinkAttachAssignsIncreasingIndices(t *testing.T) {
	reg := NewNullRegistry(testSpec())
	sink, _ := reg.LookupSink(invalidIndex, "")
	a, err := sink.NewInput(nil)
	if err != nil {
		t.Fatalf("NewInput: %v", err)
	}
	b, _ := sink.NewInput(nil)
	if b <= a {
		t.Fatalf("expected increasing attachment indices, got %d then %d", a, b)
	}
}
