package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxduplex/pkg/audio"
)

// ErrPeerClosed is returned by operations on a closed peer.
var ErrPeerClosed = errors.New("session: peer closed")

// loopbackChunks is the number of utterances a [LoopbackPeer] buffers.
const loopbackChunks = 16

// LoopbackPeer is an in-process [Peer] that echoes captured audio back. It
// collects sent frames into utterances of a fixed duration, resamples each
// from the capture rate to the playback rate and returns it as one chunk with
// a fresh stream identity. A frame shorter than the frames before it, which
// capture delivers when paused, ends the current utterance early.
//
// It exercises the whole duplex path without a network.
type LoopbackPeer struct {
	inRate  int
	outRate int
	target  int // samples per utterance at inRate

	mu        sync.Mutex
	buf       []int16
	frameLen  int
	closed    bool
	truncated []audio.Interruption

	chunks     chan audio.Chunk
	interrupts chan struct{}
}

var _ Peer = (*LoopbackPeer)(nil)

// NewLoopbackPeer creates a loopback peer for the given capture and playback
// rates. utterance is clamped to at least 100ms.
func NewLoopbackPeer(captureRate, playbackRate int, utterance time.Duration) *LoopbackPeer {
	utterance = max(utterance, 100*time.Millisecond)
	target := int(int64(captureRate) * int64(utterance) / int64(time.Second))
	return &LoopbackPeer{
		inRate:     captureRate,
		outRate:    playbackRate,
		target:     max(target, 1),
		chunks:     make(chan audio.Chunk, loopbackChunks),
		interrupts: make(chan struct{}, 1),
	}
}

// Send implements [Peer].
func (p *LoopbackPeer) Send(_ context.Context, f audio.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}

	n := len(f.Mono)
	short := p.frameLen > 0 && n < p.frameLen
	p.frameLen = max(p.frameLen, n)
	p.buf = append(p.buf, f.Mono...)

	for len(p.buf) >= p.target {
		p.emitLocked(p.buf[:p.target])
		p.buf = p.buf[p.target:]
	}
	if short && len(p.buf) > 0 {
		p.emitLocked(p.buf)
		p.buf = nil
	}
	if len(p.buf) == 0 {
		p.buf = nil // release the backing array of emitted utterances
	}
	return nil
}

func (p *LoopbackPeer) emitLocked(pcm []int16) {
	samples := audio.ResampleMono16(pcm, p.inRate, p.outRate)
	if len(samples) > 0 && &samples[0] == &pcm[0] {
		samples = slices.Clone(pcm) // same rate: do not alias the accumulator
	}
	c := audio.Chunk{
		StreamID:   uuid.NewString(),
		Samples:    samples,
		SampleRate: p.outRate,
		Arrived:    time.Now(),
	}
	select {
	case p.chunks <- c:
	default:
		slog.Warn("session: loopback buffer full, dropping utterance", "stream_id", c.StreamID, "samples", len(c.Samples))
	}
}

// Chunks implements [Peer].
func (p *LoopbackPeer) Chunks() <-chan audio.Chunk { return p.chunks }

// Interruptions implements [Peer].
func (p *LoopbackPeer) Interruptions() <-chan struct{} { return p.interrupts }

// Interrupt asks the session to stop playback, as a remote party would when
// its user starts speaking.
func (p *LoopbackPeer) Interrupt() {
	select {
	case p.interrupts <- struct{}{}:
	default:
	}
}

// Truncate implements [Peer]. It records ir.
func (p *LoopbackPeer) Truncate(_ context.Context, ir audio.Interruption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	p.truncated = append(p.truncated, ir)
	slog.Info("session: loopback utterance truncated", "stream_id", ir.StreamID, "heard_samples", ir.Offset)
	return nil
}

// Truncations returns a copy of every interruption passed to Truncate.
func (p *LoopbackPeer) Truncations() []audio.Interruption {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audio.Interruption(nil), p.truncated...)
}

// Close implements [Peer]. Buffered audio is discarded. Close is idempotent.
func (p *LoopbackPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.buf = nil
	close(p.chunks)
	return nil
}
