// Package kernels replaces the reference implementation's process-wide
// function pointers (mixer/remap/sample-conversion kernels chosen once at
// startup by CPU feature detection) with a single immutable Kernels value
// computed at init and passed explicitly, per spec.md §9's redesign note.
// Only the selection interface is in scope: the mix/remap/sconv kernels
// themselves are out of scope (§1 Non-goals).
package kernels

import (
	"os"

	"golang.org/x/sys/cpu"
)

// Variant names a selected implementation strategy for a kernel family.
// The concrete functions these name are out of scope; callers use the
// variant to choose among implementations supplied elsewhere.
type Variant string

const (
	VariantGeneric Variant = "generic"
	VariantSSE2    Variant = "sse2"
	VariantAVX2    Variant = "avx2"
	VariantNEON    Variant = "neon"
)

// Kernels is an immutable snapshot of which CPU features were detected at
// process start and which kernel variant each family should use. Unlike the
// reference implementation's mutable global function-pointer table, a
// Kernels value is constructed once and passed down explicitly.
type Kernels struct {
	HasSSE2 bool
	HasAVX2 bool
	HasNEON bool

	Mix   Variant
	Remap Variant
	Sconv Variant
}

// Detect builds a Kernels value from the running CPU's feature bits, unless
// PULSE_NO_SIMD is set in the environment, in which case every family falls
// back to VariantGeneric regardless of what the CPU supports.
func Detect() Kernels {
	if _, disabled := os.LookupEnv("PULSE_NO_SIMD"); disabled {
		return Kernels{Mix: VariantGeneric, Remap: VariantGeneric, Sconv: VariantGeneric}
	}

	k := Kernels{
		HasSSE2: cpu.X86.HasSSE2,
		HasAVX2: cpu.X86.HasAVX2,
		HasNEON: cpu.ARM64.HasASIMD,
	}
	k.Mix = selectVariant(k)
	k.Remap = selectVariant(k)
	k.Sconv = selectVariant(k)
	return k
}

func selectVariant(k Kernels) Variant {
	switch {
	case k.HasAVX2:
		return VariantAVX2
	case k.HasSSE2:
		return VariantSSE2
	case k.HasNEON:
		return VariantNEON
	default:
		return VariantGeneric
	}
}
