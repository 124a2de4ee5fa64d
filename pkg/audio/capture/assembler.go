package capture

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxduplex/pkg/audio"
)

// delivery is one item on the ready channel: either a completed frame held in
// a recycled slot, or a flush carrying a freshly allocated short frame and a
// channel closed once it has been handed to the consumer.
type delivery struct {
	slot  []int16
	flush []int16
	done  chan struct{}
}

// assembler turns a stream of mono float samples of arbitrary block length
// into fixed-size PCM16 frames. It is shared by both processing paths.
//
// write runs on the real-time context and neither blocks nor allocates: the
// accumulator mutex is only ever TryLocked there, completed frames are encoded
// into pre-allocated slots, and slots travel to the delivery goroutine through
// buffered channels. When every slot is in flight the frame is dropped and
// counted.
type assembler struct {
	frameSize int

	active atomic.Bool

	mu  sync.Mutex // guards acc and n
	acc []float32
	n   int

	free  chan []int16
	ready chan delivery
	quit  chan struct{}
	wg    sync.WaitGroup

	cbMu    sync.Mutex
	onFrame func(audio.Frame)

	delivered      atomic.Uint64
	droppedFrames  atomic.Uint64
	droppedSamples atomic.Uint64

	// onDeliver is called on the delivery goroutine after each frame.
	onDeliver func(n int)
}

func newAssembler(frameSize, buffers int) *assembler {
	a := &assembler{
		frameSize: frameSize,
		acc:       make([]float32, frameSize),
		free:      make(chan []int16, buffers),
		ready:     make(chan delivery, buffers+1),
		quit:      make(chan struct{}),
	}
	for range buffers {
		a.free <- make([]int16, frameSize)
	}
	return a
}

// run starts the delivery goroutine.
func (a *assembler) run() {
	a.wg.Add(1)
	go a.deliverLoop()
}

// stop terminates the delivery goroutine and discards undelivered frames.
func (a *assembler) stop() {
	a.active.Store(false)
	close(a.quit)
	a.wg.Wait()
	for {
		select {
		case d := <-a.ready:
			if d.done != nil {
				close(d.done)
			}
		default:
			return
		}
	}
}

func (a *assembler) setConsumer(fn func(audio.Frame)) {
	a.cbMu.Lock()
	a.onFrame = fn
	a.cbMu.Unlock()
}

// start resets the accumulator and begins accepting samples.
func (a *assembler) start() {
	a.mu.Lock()
	a.n = 0
	a.mu.Unlock()
	a.active.Store(true)
}

// flush stops accepting samples and delivers the partial accumulator as one
// short frame. It returns once the frame, and every complete frame queued
// before it, has been handed to the consumer. Nothing is delivered when the
// accumulator is empty; the wait for earlier frames still applies.
func (a *assembler) flush() {
	a.active.Store(false)

	a.mu.Lock()
	pcm := make([]int16, a.n)
	audio.EncodePCM16(pcm, a.acc[:a.n])
	a.n = 0
	a.mu.Unlock()

	done := make(chan struct{})
	select {
	case a.ready <- delivery{flush: pcm, done: done}:
	case <-a.quit:
		return
	}
	select {
	case <-done:
	case <-a.quit:
	}
}

// write appends mono samples. Called from the processing path only.
func (a *assembler) write(samples []float32) {
	if !a.active.Load() {
		return
	}
	if !a.mu.TryLock() {
		// Control context is mid-transition.
		a.droppedSamples.Add(uint64(len(samples)))
		return
	}
	defer a.mu.Unlock()
	if !a.active.Load() {
		return
	}
	for len(samples) > 0 {
		k := copy(a.acc[a.n:], samples)
		a.n += k
		samples = samples[k:]
		if a.n < a.frameSize {
			continue
		}
		a.n = 0
		select {
		case slot := <-a.free:
			audio.EncodePCM16(slot, a.acc)
			a.ready <- delivery{slot: slot}
		default:
			a.droppedFrames.Add(1)
			a.droppedSamples.Add(uint64(a.frameSize))
		}
	}
}

func (a *assembler) deliverLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.quit:
			return
		case d := <-a.ready:
			if d.slot != nil {
				frame := slices.Clone(d.slot)
				a.free <- d.slot
				a.deliver(frame)
			}
			if d.done != nil {
				if len(d.flush) > 0 {
					a.deliver(d.flush)
				}
				close(d.done)
			}
		}
	}
}

func (a *assembler) deliver(pcm []int16) {
	a.cbMu.Lock()
	fn := a.onFrame
	a.cbMu.Unlock()
	if fn == nil {
		return
	}
	fn(audio.Frame{Mono: pcm})
	a.delivered.Add(1)
	if a.onDeliver != nil {
		a.onDeliver(len(pcm))
	}
}
