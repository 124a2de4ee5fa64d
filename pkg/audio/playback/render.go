package playback

import (
	"sync/atomic"

	"github.com/MrWong99/voxduplex/pkg/audio"
)

// voice is a chunk converted to float samples with its envelope applied,
// ready for the renderer. Only played is touched after hand-off.
type voice struct {
	gen      uint64
	seq      uint64
	streamID string
	samples  []float32
	base     int // samples of the same stream rendered before this voice
	played   atomic.Int64
}

// renderer produces output blocks on the host's real-time thread. It takes
// voices from a bounded channel, plays them back to back, and nudges the
// scheduler on a non-blocking channel whenever a voice finishes. The nudge may
// be lost; the scheduler retires voices by their played count. Voices of an
// older generation are dropped silently. render neither blocks nor allocates.
type renderer struct {
	channels int
	mono     []float32
	gen      *atomic.Uint64
	voices   <-chan *voice
	done     chan<- struct{}
	tap      func([]float32)

	cur *voice // real-time thread only
	pos int
}

func (r *renderer) render(out []float32) {
	for len(out) > 0 {
		frames := min(len(out)/r.channels, len(r.mono))
		if frames == 0 {
			clear(out)
			return
		}
		mono := r.mono[:frames]
		r.fill(mono)
		if r.tap != nil {
			r.tap(mono)
		}
		audio.UpmixInto(out, mono, r.channels)
		out = out[frames*r.channels:]
	}
}

// fill renders voices into mono. The generation is loaded afresh for every
// check: an Interrupt followed by an Enqueue can hand over a voice of the new
// generation while fill is running, and that voice must play.
func (r *renderer) fill(mono []float32) {
	i := 0
	for i < len(mono) {
		if r.cur != nil && r.cur.gen < r.gen.Load() {
			r.cur = nil // interrupted
		}
		if r.cur == nil {
			select {
			case v := <-r.voices:
				if v.gen < r.gen.Load() {
					continue
				}
				r.cur, r.pos = v, 0
			default:
				clear(mono[i:])
				return
			}
		}
		v := r.cur
		n := copy(mono[i:], v.samples[r.pos:])
		r.pos += n
		i += n
		v.played.Store(int64(r.pos))
		if r.pos == len(v.samples) {
			select {
			case r.done <- struct{}{}:
			default:
			}
			r.cur = nil
		}
	}
}

// applyEnvelope ramps the first fade samples linearly up from zero and, when
// the chunk is longer than two fade windows, the last fade samples down to
// zero. Sample count never changes.
func applyEnvelope(s []float32, fade int) {
	if fade <= 0 {
		return
	}
	n := len(s)
	inv := 1 / float32(fade)
	for i := range min(fade, n) {
		s[i] *= float32(i) * inv
	}
	if n <= 2*fade {
		return
	}
	for i := n - fade; i < n; i++ {
		s[i] *= float32(n-1-i) * inv
	}
}
