package audio

import (
	"fmt"
	"math"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form, e.g. "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// DownmixInto averages interleaved multi-channel samples into mono and writes
// them to dst. It returns the number of mono samples written. With channels
// <= 1 the input is copied unchanged. It does not allocate.
func DownmixInto(dst, interleaved []float32, channels int) int {
	if channels <= 1 {
		return copy(dst, interleaved)
	}
	frames := min(len(interleaved)/channels, len(dst))
	inv := 1 / float32(channels)
	for i := range frames {
		var sum float32
		base := i * channels
		for c := range channels {
			sum += interleaved[base+c]
		}
		dst[i] = sum * inv
	}
	return frames
}

// UpmixInto duplicates each mono sample across channels, writing interleaved
// output to dst. It returns the number of mono samples consumed. With
// channels <= 1 the input is copied unchanged. It does not allocate.
func UpmixInto(dst, mono []float32, channels int) int {
	if channels <= 1 {
		return copy(dst, mono)
	}
	frames := min(len(dst)/channels, len(mono))
	for i := range frames {
		s := mono[i]
		base := i * channels
		for c := range channels {
			dst[base+c] = s
		}
	}
	return frames
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	dstSamples := int(int64(len(pcm)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := pcm[srcIdx]
		s1 := s0
		if srcIdx+1 < len(pcm) {
			s1 = pcm[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// Resampler converts a continuous mono float stream between sample rates with
// linear interpolation. Unlike [ResampleMono16] it keeps state across blocks,
// so block boundaries do not introduce discontinuities, and it writes into a
// caller-provided buffer.
//
// A Resampler is owned by a single goroutine.
type Resampler struct {
	srcRate, dstRate int
	step             float64 // source samples advanced per output sample
	pos              float64 // read position relative to the current block; -1 addresses last
	last             float32 // final sample of the previous block
}

// NewResampler creates a resampler from srcRate to dstRate. Both must be > 0.
func NewResampler(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", srcRate, dstRate)
	}
	return &Resampler{
		srcRate: srcRate,
		dstRate: dstRate,
		step:    float64(srcRate) / float64(dstRate),
	}, nil
}

// MaxOutput returns the largest number of output samples Process can produce
// for an input block of n samples. Size dst with it.
func (r *Resampler) MaxOutput(n int) int {
	return int(math.Ceil(float64(n)*float64(r.dstRate)/float64(r.srcRate))) + 1
}

// Process resamples src into dst and returns the number of samples written.
// dst should hold at least MaxOutput(len(src)) samples; output beyond its
// capacity is lost.
func (r *Resampler) Process(dst, src []float32) int {
	if len(src) == 0 {
		return 0
	}
	n := 0
	for n < len(dst) {
		idx := int(math.Floor(r.pos))
		if idx+1 >= len(src) {
			break
		}
		frac := float32(r.pos - float64(idx))
		s0 := r.last
		if idx >= 0 {
			s0 = src[idx]
		}
		s1 := src[idx+1]
		dst[n] = s0 + (s1-s0)*frac
		n++
		r.pos += r.step
	}
	r.pos -= float64(len(src))
	if r.pos < -1 {
		// dst was too small; skip the unread source.
		r.pos = -1
	}
	r.last = src[len(src)-1]
	return n
}

// Reset clears the inter-block state.
func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
