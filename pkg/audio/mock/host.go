// Package mock provides in-memory implementations of [audio.Host],
// [audio.Recorder], and [audio.Player] for use in unit tests and headless runs.
//
// All mocks are safe for concurrent use. They record method calls so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control behaviour.
//
// Streams opened on a [Host] are pumped by hand by default: the test pushes
// input blocks with [InputStream.Push] or [BlockingInputStream.Push] and pulls
// rendered output with [OutputStream.Pull]. This keeps engine tests
// deterministic. With [Host.Paced] set, started streams are instead driven by
// wall-clock goroutines, which is how the "null" host runs on machines without
// audio hardware.
//
// Typical usage:
//
//	host := &mock.Host{}
//	eng := capture.New(host, capture.Config{})
//	_ = eng.Begin(ctx)
//	_ = eng.Record(onFrame)
//	host.LastInput().Push(block)
package mock

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voxduplex/pkg/audio"
)

// ErrStreamStopped is returned by a blocking Read on a stream that is not running.
var ErrStreamStopped = errors.New("mock: stream stopped")

// ─── Host ─────────────────────────────────────────────────────────────────────

// Host is a mock implementation of [audio.Host].
// Set the exported configuration fields before opening streams.
type Host struct {
	mu sync.Mutex

	// NoInput and NoOutput simulate a machine without the respective device.
	NoInput  bool
	NoOutput bool

	// InputRate and OutputRate are the native device rates. When non-zero,
	// opening a stream at any other rate fails. When zero every rate is
	// accepted and DefaultInput/DefaultOutput report 48000.
	InputRate  int
	OutputRate int

	// InputChannels is the channel count reported by DefaultInput. Defaults to 2.
	InputChannels int

	// RealtimeError, when set, is returned by OpenInput. It simulates a
	// platform without a callback-driven capture path.
	RealtimeError error

	// BlockingError, when set, is returned by OpenBlockingInput.
	BlockingError error

	// OutputError, when set, is returned by OpenOutput.
	OutputError error

	// Paced drives started streams from wall-clock goroutines instead of
	// manual Push/Pull calls.
	Paced bool

	// Source fills paced input blocks. Nil produces silence.
	Source func(buf []float32)

	// Sink receives every paced output block. It must not retain buf.
	Sink func(buf []float32)

	// Inputs records every stream returned by OpenInput.
	Inputs []*InputStream

	// BlockingInputs records every stream returned by OpenBlockingInput.
	BlockingInputs []*BlockingInputStream

	// Outputs records every stream returned by OpenOutput.
	Outputs []*OutputStream

	// InputParams records the parameters of every OpenInput and
	// OpenBlockingInput call, including refused ones.
	InputParams []audio.StreamParams

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Host = (*Host)(nil)

// DefaultInput implements [audio.Host].
func (h *Host) DefaultInput() (audio.DeviceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.NoInput {
		return audio.DeviceInfo{}, fmt.Errorf("mock: no input device: %w", audio.ErrDeviceUnavailable)
	}
	ch := h.InputChannels
	if ch <= 0 {
		ch = 2
	}
	return audio.DeviceInfo{
		Name:              "mock input",
		MaxChannels:       ch,
		DefaultSampleRate: float64(nativeRate(h.InputRate)),
		LowLatency:        10 * time.Millisecond,
	}, nil
}

// DefaultOutput implements [audio.Host].
func (h *Host) DefaultOutput() (audio.DeviceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.NoOutput {
		return audio.DeviceInfo{}, fmt.Errorf("mock: no output device: %w", audio.ErrDeviceUnavailable)
	}
	return audio.DeviceInfo{
		Name:              "mock output",
		MaxChannels:       2,
		DefaultSampleRate: float64(nativeRate(h.OutputRate)),
		LowLatency:        10 * time.Millisecond,
	}, nil
}

// OpenInput implements [audio.Host].
func (h *Host) OpenInput(p audio.StreamParams, process func(in []float32)) (audio.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.InputParams = append(h.InputParams, p)
	if err := h.checkInput(p); err != nil {
		return nil, err
	}
	if h.RealtimeError != nil {
		return nil, h.RealtimeError
	}
	s := &InputStream{process: process, source: h.Source}
	s.init(p, h.Paced)
	h.Inputs = append(h.Inputs, s)
	return s, nil
}

// OpenBlockingInput implements [audio.Host].
func (h *Host) OpenBlockingInput(p audio.StreamParams) (audio.BlockingInputStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.InputParams = append(h.InputParams, p)
	if err := h.checkInput(p); err != nil {
		return nil, err
	}
	if h.BlockingError != nil {
		return nil, h.BlockingError
	}
	s := &BlockingInputStream{
		blocks: make(chan []float32, 64),
		errs:   make(chan error, 64),
		source: h.Source,
	}
	s.init(p, h.Paced)
	h.BlockingInputs = append(h.BlockingInputs, s)
	return s, nil
}

// OpenOutput implements [audio.Host].
func (h *Host) OpenOutput(p audio.StreamParams, render func(out []float32)) (audio.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.NoOutput {
		return nil, fmt.Errorf("mock: no output device: %w", audio.ErrDeviceUnavailable)
	}
	if h.OutputRate > 0 && p.SampleRate != h.OutputRate {
		return nil, fmt.Errorf("mock: output device does not support %d Hz", p.SampleRate)
	}
	if h.OutputError != nil {
		return nil, h.OutputError
	}
	s := &OutputStream{render: render, sink: h.Sink}
	s.init(p, h.Paced)
	h.Outputs = append(h.Outputs, s)
	return s, nil
}

// Close implements [audio.Host].
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountClose++
	return nil
}

// LastInput returns the most recently opened callback input stream, or nil.
func (h *Host) LastInput() *InputStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.Inputs) == 0 {
		return nil
	}
	return h.Inputs[len(h.Inputs)-1]
}

// LastBlockingInput returns the most recently opened blocking input stream, or nil.
func (h *Host) LastBlockingInput() *BlockingInputStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.BlockingInputs) == 0 {
		return nil
	}
	return h.BlockingInputs[len(h.BlockingInputs)-1]
}

// LastOutput returns the most recently opened output stream, or nil.
func (h *Host) LastOutput() *OutputStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.Outputs) == 0 {
		return nil
	}
	return h.Outputs[len(h.Outputs)-1]
}

func (h *Host) checkInput(p audio.StreamParams) error {
	if h.NoInput {
		return fmt.Errorf("mock: no input device: %w", audio.ErrDeviceUnavailable)
	}
	if h.InputRate > 0 && p.SampleRate != h.InputRate {
		return fmt.Errorf("mock: input device does not support %d Hz", p.SampleRate)
	}
	return nil
}

func nativeRate(r int) int {
	if r > 0 {
		return r
	}
	return 48000
}

// ─── Streams ──────────────────────────────────────────────────────────────────

// base holds the lifecycle shared by all mock streams. mu is held for the
// whole duration of a process/render callback so that Stop, like a real host,
// returns only after the callback in flight has finished.
type base struct {
	mu      sync.Mutex
	format  audio.Format
	params  audio.StreamParams
	paced   bool
	started bool
	closed  bool
	quit    chan struct{}
	wg      sync.WaitGroup

	// CallCountStart, CallCountStop and CallCountClose record lifecycle calls.
	CallCountStart int
	CallCountStop  int
	CallCountClose int
}

func (b *base) init(p audio.StreamParams, paced bool) {
	b.format = audio.Format{SampleRate: p.SampleRate, Channels: max(p.Channels, 1)}
	b.params = p
	b.paced = paced
}

// Format implements [audio.Stream].
func (b *base) Format() audio.Format { return b.format }

// Params returns the parameters the stream was opened with.
func (b *base) Params() audio.StreamParams { return b.params }

// Running reports whether the stream is started and not closed.
func (b *base) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started && !b.closed
}

// Closed reports whether Close was called.
func (b *base) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *base) blockPeriod() time.Duration {
	frames := max(b.params.FramesPerBuffer, 1)
	return time.Duration(frames) * time.Second / time.Duration(max(b.format.SampleRate, 1))
}

func (b *base) start(loop func(quit <-chan struct{})) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallCountStart++
	if b.closed {
		return errors.New("mock: start on closed stream")
	}
	if b.started {
		return nil
	}
	b.started = true
	b.quit = make(chan struct{})
	if b.paced && loop != nil {
		b.wg.Add(1)
		go func(q <-chan struct{}) {
			defer b.wg.Done()
			loop(q)
		}(b.quit)
	}
	return nil
}

func (b *base) stop(countClose bool) {
	b.mu.Lock()
	if countClose {
		b.CallCountClose++
		b.closed = true
	} else {
		b.CallCountStop++
	}
	if b.started {
		b.started = false
		close(b.quit)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// tick runs fn every block period until quit is closed.
func (b *base) tick(quit <-chan struct{}, fn func()) {
	t := time.NewTicker(b.blockPeriod())
	defer t.Stop()
	for {
		select {
		case <-quit:
			return
		case <-t.C:
			fn()
		}
	}
}

// InputStream is a callback-driven mock capture stream.
type InputStream struct {
	base
	process func(in []float32)
	source  func(buf []float32)
}

// Start implements [audio.Stream].
func (s *InputStream) Start() error {
	return s.start(func(quit <-chan struct{}) {
		buf := make([]float32, max(s.params.FramesPerBuffer, 1)*s.format.Channels)
		s.tick(quit, func() {
			clear(buf)
			if s.source != nil {
				s.source(buf)
			}
			s.Push(buf)
		})
	})
}

// Stop implements [audio.Stream].
func (s *InputStream) Stop() error { s.stop(false); return nil }

// Close implements [audio.Stream].
func (s *InputStream) Close() error { s.stop(true); return nil }

// Push delivers one interleaved block to the process callback, as the host's
// real-time thread would. It reports false and drops the block when the
// stream is not running.
func (s *InputStream) Push(in []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return false
	}
	s.process(in)
	return true
}

// BlockingInputStream is a polled mock capture stream.
type BlockingInputStream struct {
	base
	blocks chan []float32
	errs   chan error
	source func(buf []float32)
}

// Start implements [audio.Stream].
func (s *BlockingInputStream) Start() error { return s.start(nil) }

// Stop implements [audio.Stream].
func (s *BlockingInputStream) Stop() error { s.stop(false); return nil }

// Close implements [audio.Stream].
func (s *BlockingInputStream) Close() error { s.stop(true); return nil }

// Push queues one interleaved block for a subsequent Read. The block is copied.
// It reports false when the queue is full.
func (s *BlockingInputStream) Push(in []float32) bool {
	select {
	case s.blocks <- append([]float32(nil), in...):
		return true
	default:
		return false
	}
}

// Fail queues err to be returned by a subsequent Read, simulating a device
// fault. It reports false when the queue is full.
func (s *BlockingInputStream) Fail(err error) bool {
	select {
	case s.errs <- err:
		return true
	default:
		return false
	}
}

// Read implements [audio.BlockingInputStream]. Without pacing it waits for a
// pushed block; paced streams sleep one block period and fill buf from the
// host's Source. It returns [ErrStreamStopped] once the stream stops.
func (s *BlockingInputStream) Read(buf []float32) error {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return ErrStreamStopped
	}
	quit := s.quit
	s.mu.Unlock()

	if s.paced {
		t := time.NewTimer(s.blockPeriod())
		defer t.Stop()
		select {
		case <-quit:
			return ErrStreamStopped
		case <-t.C:
		}
		clear(buf)
		if s.source != nil {
			s.source(buf)
		}
		return nil
	}

	select {
	case <-quit:
		return ErrStreamStopped
	case err := <-s.errs:
		return err
	case b := <-s.blocks:
		copy(buf, b)
		return nil
	}
}

// OutputStream is a callback-driven mock output stream.
type OutputStream struct {
	base
	render func(out []float32)
	sink   func(buf []float32)
}

// Start implements [audio.Stream].
func (s *OutputStream) Start() error {
	return s.start(func(quit <-chan struct{}) {
		buf := make([]float32, max(s.params.FramesPerBuffer, 1)*s.format.Channels)
		s.tick(quit, func() {
			s.mu.Lock()
			running := s.started && !s.closed
			if running {
				s.render(buf)
			}
			s.mu.Unlock()
			if running && s.sink != nil {
				s.sink(buf)
			}
		})
	})
}

// Stop implements [audio.Stream].
func (s *OutputStream) Stop() error { s.stop(false); return nil }

// Close implements [audio.Stream].
func (s *OutputStream) Close() error { s.stop(true); return nil }

// Pull asks the render callback for frames interleaved frames and returns a
// copy of the result. It returns nil when the stream is not running.
func (s *OutputStream) Pull(frames int) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closed {
		return nil
	}
	buf := make([]float32, frames*s.format.Channels)
	s.render(buf)
	return buf
}
