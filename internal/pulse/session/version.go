package session

import "github.com/alxayo/pulsenative/internal/pulse/sampleformat"

// ProtocolVersion is the version this server implements and advertises in
// its AUTH reply.
const ProtocolVersion = 34

// MinProtocolVersion is the oldest client version accepted (spec.md §4.7.1).
const MinProtocolVersion = 8

// Capability flag bits packed into the high byte of the AUTH version field.
const (
	flagSHM   uint32 = 1 << 31
	flagMemfd uint32 = 1 << 30
	versionMask uint32 = 0x0000ffff
)

// splitVersion separates the negotiated protocol version from the
// capability bits a client ORs into the high bits of the AUTH version field
// (spec.md §4.7.1).
func splitVersion(raw uint32) (version uint32, shm, memfd bool) {
	version = raw & versionMask
	if version >= 13 {
		shm = raw&flagSHM != 0
		if version >= SinceMemfdSHM {
			memfd = raw&flagMemfd != 0
		}
	}
	return version, shm, memfd
}

// SinceVersion gates are named per spec.md §4.7.3's table; each constant is
// the minimum client protocol version at which the named field is present.
const (
	SinceBufferMetrics        = 9
	SinceSinkInputMuted       = 11
	SinceNegotiatedFormat     = 12
	SinceProplist             = 13
	SinceVolumeSet            = 14
	SinceMutedSet             = 15
	SincePortList             = 16
	SinceRelativeVolume       = 17
	SincePassthrough          = 18
	SinceCorked               = 19
	SinceVolumeWritable       = 20
	SinceFormatInfo           = 21
	SinceRecordVolume         = 22
	SinceUnderrunOffset       = 23
	SincePortAvailable        = 24
	SinceCardPorts            = 26
	SincePortLatencyOffset    = 27
	SinceProfileAvailable     = 29
	SinceSRBChannel           = 30
	SinceMemfdSHM             = 32
	SincePortAvailableGroup   = 34
)

// Since reports whether the negotiated client version supports the field
// gated at minVersion.
func Since(clientVersion, minVersion uint32) bool {
	return clientVersion >= minVersion
}

// FixupSampleSpec maps sample formats a client older than a given protocol
// version cannot parse to the FLOAT32 format of matching endianness, per
// spec.md §4.7.4. Must be applied before echoing any SampleSpec back to the
// client in a reply.
func FixupSampleSpec(spec sampleformat.Spec, clientVersion uint32) sampleformat.Spec {
	if clientVersion < 12 {
		switch spec.Format {
		case sampleformat.S32LE:
			spec.Format = sampleformat.FLOAT32LE
		case sampleformat.S32BE:
			spec.Format = sampleformat.FLOAT32BE
		}
	}
	if clientVersion < 15 {
		switch spec.Format {
		case sampleformat.S24LE, sampleformat.S24_32LE:
			spec.Format = sampleformat.FLOAT32LE
		case sampleformat.S24BE, sampleformat.S24_32BE:
			spec.Format = sampleformat.FLOAT32BE
		}
	}
	return spec
}
