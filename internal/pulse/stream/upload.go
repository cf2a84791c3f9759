package stream

import (
	"fmt"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"github.com/alxayo/pulsenative/internal/pulse/sampleformat"
	"github.com/alxayo/pulsenative/internal/pulse/tagstruct"
)

// UploadStream is a one-shot buffer that accumulates a named sample until a
// FINISH command registers it in the sample cache (spec.md "UploadStream").
type UploadStream struct {
	Name       string
	SampleSpec sampleformat.Spec
	ChannelMap sampleformat.ChannelMap
	Properties tagstruct.PropList

	remaining uint32
	data      []byte
}

// NewUploadStream reserves length bytes of capacity for the named sample.
func NewUploadStream(name string, ss sampleformat.Spec, cm sampleformat.ChannelMap, props tagstruct.PropList, length uint32) (*UploadStream, error) {
	if name == "" {
		return nil, perr.NewInvalid("uploadstream.new", fmt.Errorf("sample name must not be empty"))
	}
	if err := ss.Valid(); err != nil {
		return nil, err
	}
	return &UploadStream{
		Name:       name,
		SampleSpec: ss,
		ChannelMap: cm,
		Properties: props,
		remaining:  length,
		data:       make([]byte, 0, length),
	}, nil
}

// Write appends a chunk of sample data, failing if it would exceed the
// stream's declared length.
func (u *UploadStream) Write(chunk []byte) error {
	if uint32(len(chunk)) > u.remaining {
		return perr.NewInvalid("uploadstream.write", fmt.Errorf("chunk of %d bytes exceeds remaining %d", len(chunk), u.remaining))
	}
	u.data = append(u.data, chunk...)
	u.remaining -= uint32(len(chunk))
	return nil
}

// Done reports whether the declared length has been fully written.
func (u *UploadStream) Done() bool { return u.remaining == 0 }

// Finish returns the accumulated sample bytes for registration in the
// sample cache, failing if the stream isn't yet fully written.
func (u *UploadStream) Finish() ([]byte, error) {
	if !u.Done() {
		return nil, perr.NewBadState("uploadstream.finish", fmt.Errorf("%d bytes still outstanding", u.remaining))
	}
	return u.data, nil
}
