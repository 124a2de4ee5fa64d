package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Scale factors for the asymmetric two's-complement 16-bit range.
const (
	posScale = 32767.0 // 0x7FFF
	negScale = 32768.0 // 0x8000
)

// ToPCM16 converts a float sample to a signed 16-bit PCM sample. The input is
// clamped to [-1, 1], scaled by 32767 when non-negative and by 32768 when
// negative, and truncated toward zero. NaN maps to silence.
func ToPCM16(x float32) int16 {
	v := float64(x)
	if v != v {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(v * negScale)
	}
	return int16(v * posScale)
}

// ToFloat32 converts a signed 16-bit PCM sample to a float sample in [-1, 1]
// using the same asymmetric divisor as [ToPCM16].
//
// Positive results are rounded so that ToPCM16(ToFloat32(s)) == s holds for
// every int16; the float direction is the only lossy one.
func ToFloat32(s int16) float32 {
	if s < 0 {
		// Division by a power of two is exact.
		return float32(float64(s) / negScale)
	}
	f := float32(float64(s) / posScale)
	for float64(f)*posScale < float64(s) {
		f = math.Nextafter32(f, 2)
	}
	return f
}

// EncodePCM16 converts src into dst with [ToPCM16] and returns the number of
// samples written (the shorter of the two lengths). It does not allocate.
func EncodePCM16(dst []int16, src []float32) int {
	n := min(len(dst), len(src))
	for i := range n {
		dst[i] = ToPCM16(src[i])
	}
	return n
}

// DecodePCM16 converts src into dst with [ToFloat32] and returns the number of
// samples written (the shorter of the two lengths). It does not allocate.
func DecodePCM16(dst []float32, src []int16) int {
	n := min(len(dst), len(src))
	for i := range n {
		dst[i] = ToFloat32(src[i])
	}
	return n
}

// BytesToSamples decodes little-endian int16 PCM. An odd byte count is
// rejected rather than silently truncated.
func BytesToSamples(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("audio: odd PCM byte count %d", len(b))
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out, nil
}

// SamplesToBytes encodes int16 samples as little-endian PCM bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
