package session

import (
	"fmt"
	"time"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"github.com/alxayo/pulsenative/internal/pulse/bufferqueue"
	"github.com/alxayo/pulsenative/internal/pulse/sampleformat"
	"github.com/alxayo/pulsenative/internal/pulse/stream"
	"github.com/alxayo/pulsenative/internal/pulse/tagstruct"
)

// invalidIndex is the wire sentinel for "not specified" (PA_INVALID_INDEX).
const invalidIndex uint32 = 0xFFFFFFFF

// readLookup decodes the "index or name, never both" pair §4.7.2 requires
// every object-lookup command to send.
func readLookup(args *tagstruct.Reader) (index uint32, name string, err error) {
	index, err = args.GetU32()
	if err != nil {
		return 0, "", err
	}
	name, _, err = args.GetString()
	if err != nil {
		return 0, "", err
	}
	return index, name, nil
}

func readRequestedAttr(args *tagstruct.Reader) (stream.RequestedAttr, error) {
	var req stream.RequestedAttr
	var err error
	if req.MaxLength, err = args.GetU32(); err != nil {
		return req, err
	}
	if req.Tlength, err = args.GetU32(); err != nil {
		return req, err
	}
	if req.Prebuf, err = args.GetU32(); err != nil {
		return req, err
	}
	if req.Minreq, err = args.GetU32(); err != nil {
		return req, err
	}
	if req.Fragsize, err = args.GetU32(); err != nil {
		return req, err
	}
	return req, nil
}

func putAttr(w *tagstruct.Writer, a bufferqueue.Attr) {
	w.PutU32(a.MaxLength)
	w.PutU32(a.Tlength)
	w.PutU32(a.Prebuf)
	w.PutU32(a.Minreq)
	w.PutU32(a.Fragsize)
}

// cmdSetClientName assigns (or renames) the single implicit client that
// owns this connection and replies with its index, matching
// SET_CLIENT_NAME's reply of a pa_client index.
func (s *Session) cmdSetClientName(tag uint32, payload []byte) ([]byte, error) {
	if err := s.requireAuthorized(); err != nil {
		return nil, err
	}
	args := tagstruct.NewReader(payload)
	props, err := args.GetPropList()
	if err != nil {
		return nil, err
	}
	if !args.Eof() {
		return nil, perr.NewProtocolError("session.cmd.setClientName", fmt.Errorf("trailing bytes"))
	}

	s.mu.Lock()
	if s.clientIndex == 0 {
		s.clientIndex = 1
	}
	s.clientProps = props
	idx := s.clientIndex
	s.mu.Unlock()

	var reply tagstruct.Writer
	reply.PutU32(idx)
	return encodeReply(tag, &reply), nil
}

func (s *Session) cmdLookupSink(tag uint32, payload []byte) ([]byte, error) {
	return s.lookup(tag, payload, true)
}

func (s *Session) cmdLookupSource(tag uint32, payload []byte) ([]byte, error) {
	return s.lookup(tag, payload, false)
}

func (s *Session) lookup(tag uint32, payload []byte, sink bool) ([]byte, error) {
	if err := s.requireAuthorized(); err != nil {
		return nil, err
	}
	args := tagstruct.NewReader(payload)
	name, ok, err := args.GetString()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, perr.NewInvalid("session.cmd.lookup", fmt.Errorf("name required"))
	}
	if !args.Eof() {
		return nil, perr.NewProtocolError("session.cmd.lookup", fmt.Errorf("trailing bytes"))
	}

	var index uint32
	if sink {
		dev, lerr := s.registry.LookupSink(invalidIndex, name)
		if lerr != nil {
			return nil, lerr
		}
		index = dev.Index()
	} else {
		dev, lerr := s.registry.LookupSource(invalidIndex, name)
		if lerr != nil {
			return nil, lerr
		}
		index = dev.Index()
	}

	var reply tagstruct.Writer
	reply.PutU32(index)
	return encodeReply(tag, &reply), nil
}

// cmdGetServerInfo replies with the fixed fields of GET_SERVER_INFO: user,
// host, server version/name, sample spec, default sink/source, and a zero
// cookie. The cookie is sent to every client regardless of its version.
func (s *Session) cmdGetServerInfo(tag uint32, payload []byte) ([]byte, error) {
	if err := s.requireAuthorized(); err != nil {
		return nil, err
	}
	args := tagstruct.NewReader(payload)
	if !args.Eof() {
		return nil, perr.NewProtocolError("session.cmd.getServerInfo", fmt.Errorf("trailing bytes"))
	}

	var reply tagstruct.Writer
	reply.PutString(fmt.Sprintf("uid%d", s.peer.UID))
	reply.PutString(s.opts.ServerName)
	reply.PutString("pulsenative")
	reply.PutString(s.opts.ServerName)
	reply.PutSampleSpec(sampleformat.Spec{Format: sampleformat.FLOAT32LE, Channels: 2, Rate: 44100})
	reply.PutString(s.registry.DefaultSinkName())
	reply.PutString(s.registry.DefaultSourceName())
	reply.PutU32(0) // cookie: no session-persistent client cookie is tracked
	return encodeReply(tag, &reply), nil
}

// cmdCreatePlaybackStream implements the playback half of §4.5's stream
// setup: resolve the buffer attribute, attach a new PlaybackStream to the
// target sink, and reply with the index and realized attribute.
func (s *Session) cmdCreatePlaybackStream(tag uint32, payload []byte) ([]byte, error) {
	if err := s.requireAuthorized(); err != nil {
		return nil, err
	}
	args := tagstruct.NewReader(payload)
	name, _, err := args.GetString()
	if err != nil {
		return nil, err
	}
	ss, err := args.GetSampleSpec()
	if err != nil {
		return nil, err
	}
	cm, err := args.GetChannelMap()
	if err != nil {
		return nil, err
	}
	sinkIndex, sinkName, err := readLookup(args)
	if err != nil {
		return nil, err
	}
	req, err := readRequestedAttr(args)
	if err != nil {
		return nil, err
	}

	ss = FixupSampleSpec(ss, s.version)

	sink, err := s.registry.LookupSink(sinkIndex, sinkName)
	if err != nil {
		return nil, err
	}

	attr := stream.ResolvePlaybackAttr(req, ss, stream.LatencyTraditional)
	attr = stream.FinalizePlaybackAttr(attr, req, ss, stream.LatencyTraditional, sink.Latency())

	ps, err := stream.NewPlaybackStream(s.nextStreamIndex(), ss, attr, 0, stream.PlaybackCallbacks{
		OnUnderflow: func(index uint32, readIndex uint64) { s.log.Debug("playback underflow", "stream", index) },
		OnOverflow:  func(index uint32) { s.log.Debug("playback overflow", "stream", index) },
	})
	if err != nil {
		return nil, err
	}
	sinkInputIndex, err := sink.NewInput(ps)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.playbackStreams == nil {
		s.playbackStreams = make(map[uint32]*stream.PlaybackStream)
	}
	s.playbackStreams[ps.Index] = ps
	s.mu.Unlock()

	s.log.Info("playback stream created", "name", name, "channel_map_channels", len(cm.Positions), "sink_input", sinkInputIndex)

	var reply tagstruct.Writer
	reply.PutU32(ps.Index)
	reply.PutU32(sinkInputIndex)
	reply.PutU32(uint32(sink.Latency() / time.Microsecond))
	putAttr(&reply, attr)
	return encodeReply(tag, &reply), nil
}

// cmdCreateRecordStream mirrors cmdCreatePlaybackStream for the capture
// direction (§4.6).
func (s *Session) cmdCreateRecordStream(tag uint32, payload []byte) ([]byte, error) {
	if err := s.requireAuthorized(); err != nil {
		return nil, err
	}
	args := tagstruct.NewReader(payload)
	name, _, err := args.GetString()
	if err != nil {
		return nil, err
	}
	ss, err := args.GetSampleSpec()
	if err != nil {
		return nil, err
	}
	_, err = args.GetChannelMap()
	if err != nil {
		return nil, err
	}
	sourceIndex, sourceName, err := readLookup(args)
	if err != nil {
		return nil, err
	}
	req, err := readRequestedAttr(args)
	if err != nil {
		return nil, err
	}

	ss = FixupSampleSpec(ss, s.version)

	source, err := s.registry.LookupSource(sourceIndex, sourceName)
	if err != nil {
		return nil, err
	}

	attr := stream.ResolveRecordAttr(req, ss)

	rs, err := stream.NewRecordStream(s.nextStreamIndex(), ss, attr, 0, stream.RecordCallbacks{
		OnDataAvailable: func(index uint32) {},
	})
	if err != nil {
		return nil, err
	}
	sourceOutputIndex, err := source.NewOutput(rs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.recordStreams == nil {
		s.recordStreams = make(map[uint32]*stream.RecordStream)
	}
	s.recordStreams[rs.Index] = rs
	s.mu.Unlock()

	s.log.Info("record stream created", "name", name, "source_output", sourceOutputIndex)

	var reply tagstruct.Writer
	reply.PutU32(rs.Index)
	reply.PutU32(uint32(source.Latency() / time.Microsecond))
	putAttr(&reply, attr)
	return encodeReply(tag, &reply), nil
}

// cmdDeleteStream handles both DELETE_PLAYBACK_STREAM and
// DELETE_RECORD_STREAM: the two opcodes decode identically (a single
// stream index) and differ only in which table this connection searches.
func (s *Session) cmdDeleteStream(tag uint32, payload []byte) ([]byte, error) {
	if err := s.requireAuthorized(); err != nil {
		return nil, err
	}
	args := tagstruct.NewReader(payload)
	index, err := args.GetU32()
	if err != nil {
		return nil, err
	}
	if !args.Eof() {
		return nil, perr.NewProtocolError("session.cmd.deleteStream", fmt.Errorf("trailing bytes"))
	}

	s.mu.Lock()
	_, isPlayback := s.playbackStreams[index]
	delete(s.playbackStreams, index)
	_, isRecord := s.recordStreams[index]
	delete(s.recordStreams, index)
	s.mu.Unlock()

	if !isPlayback && !isRecord {
		return nil, perr.NewNoEntity("session.cmd.deleteStream", fmt.Errorf("no stream with index %d", index))
	}

	var reply tagstruct.Writer
	return encodeReply(tag, &reply), nil
}

// cmdExit handles EXIT: it only asks the hosting process to shut down (via
// the optional OnExit hook) rather than owning that decision itself, since
// a Session has no reference to the rest of the daemon.
func (s *Session) cmdExit(tag uint32, payload []byte) ([]byte, error) {
	if err := s.requireAuthorized(); err != nil {
		return nil, err
	}
	args := tagstruct.NewReader(payload)
	if !args.Eof() {
		return nil, perr.NewProtocolError("session.cmd.exit", fmt.Errorf("trailing bytes"))
	}
	if s.opts.OnExit != nil {
		s.opts.OnExit()
	}
	var reply tagstruct.Writer
	return encodeReply(tag, &reply), nil
}

// cmdExtension handles EXTENSION: resolve the target module by index-or-name
// (same convention as every other lookup) and hand the remaining bytes to
// its registered handler unparsed, since the payload shape beyond that
// point is module-defined (spec.md §4.8).
func (s *Session) cmdExtension(tag uint32, payload []byte) ([]byte, error) {
	if err := s.requireAuthorized(); err != nil {
		return nil, err
	}
	args := tagstruct.NewReader(payload)
	if _, _, err := readLookup(args); err != nil {
		return nil, err
	}
	name, ok, err := args.GetString()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, perr.NewInvalid("session.cmd.extension", fmt.Errorf("module name required"))
	}

	if s.opts.ExtensionLookup == nil {
		return nil, perr.NewNoExtension("session.cmd.extension", fmt.Errorf("no extensions registered"))
	}
	handler, ok := s.opts.ExtensionLookup(name)
	if !ok {
		return nil, perr.NewNoExtension("session.cmd.extension", fmt.Errorf("unknown extension %q", name))
	}
	return handler(tag, args.RemainingBytes())
}

// nextStreamIndex hands out a monotonically increasing per-connection
// stream index. Playback and record streams share one counter, mirroring
// the reference server's single per-connection index space.
func (s *Session) nextStreamIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamSeq++
	return s.streamSeq
}
