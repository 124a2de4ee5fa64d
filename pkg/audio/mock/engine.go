package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxduplex/pkg/audio"
)

// ─── Recorder ─────────────────────────────────────────────────────────────────

// Recorder is a mock implementation of [audio.Recorder].
// Set the exported Result/Error fields before use; inspect the Call* fields after.
type Recorder struct {
	mu sync.Mutex

	// BeginError is returned by Begin.
	BeginError error

	// RecordError is returned by Record.
	RecordError error

	// EndError is returned by End.
	EndError error

	// FrequenciesResult is returned by Frequencies. Defaults to [audio.EmptySpectrum].
	FrequenciesResult audio.Spectrum

	// CallCountBegin, CallCountRecord, CallCountPause and CallCountEnd record
	// how many times each method was called.
	CallCountBegin  int
	CallCountRecord int
	CallCountPause  int
	CallCountEnd    int

	onFrame   func(audio.Frame)
	recording bool
}

var _ audio.Recorder = (*Recorder)(nil)

// Begin implements [audio.Recorder].
func (r *Recorder) Begin(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountBegin++
	return r.BeginError
}

// Record implements [audio.Recorder]. The callback is kept for [Recorder.Emit].
func (r *Recorder) Record(onFrame func(audio.Frame)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountRecord++
	if r.RecordError != nil {
		return r.RecordError
	}
	r.onFrame = onFrame
	r.recording = true
	return nil
}

// Pause implements [audio.Recorder].
func (r *Recorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountPause++
	r.recording = false
}

// End implements [audio.Recorder].
func (r *Recorder) End() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountEnd++
	r.recording = false
	return r.EndError
}

// Frequencies implements [audio.Recorder].
func (r *Recorder) Frequencies() audio.Spectrum {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FrequenciesResult.Values == nil {
		return audio.EmptySpectrum()
	}
	return r.FrequenciesResult
}

// Recording implements [audio.Recorder].
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Emit delivers f to the registered callback if the recorder is recording.
// It reports whether the frame was delivered. Use it to simulate captured audio.
func (r *Recorder) Emit(f audio.Frame) bool {
	r.mu.Lock()
	cb, on := r.onFrame, r.recording
	r.mu.Unlock()
	if !on || cb == nil {
		return false
	}
	cb(f)
	return true
}

// RecorderCalls is a snapshot of a [Recorder]'s call counters.
type RecorderCalls struct {
	Begin, Record, Pause, End int
}

// Calls returns the call counters under the lock.
func (r *Recorder) Calls() RecorderCalls {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RecorderCalls{
		Begin:  r.CallCountBegin,
		Record: r.CallCountRecord,
		Pause:  r.CallCountPause,
		End:    r.CallCountEnd,
	}
}

// SetBeginError replaces BeginError under the lock, for tests that change
// the outcome while the recorder is in use.
func (r *Recorder) SetBeginError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BeginError = err
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// ConnectError is returned by Connect.
	ConnectError error

	// CloseError is returned by Close.
	CloseError error

	// InterruptResult is returned by Interrupt.
	InterruptResult audio.Interruption

	// FrequenciesResult is returned by Frequencies. Defaults to [audio.EmptySpectrum].
	FrequenciesResult audio.Spectrum

	// Enqueued records every chunk passed to Enqueue or Add16BitPCM, in order.
	Enqueued []audio.Chunk

	// CallCountConnect, CallCountInterrupt and CallCountClose record how many
	// times each method was called.
	CallCountConnect   int
	CallCountInterrupt int
	CallCountClose     int

	onPlay  func()
	onEnded func()
}

var _ audio.Player = (*Player)(nil)

// Connect implements [audio.Player].
func (p *Player) Connect(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountConnect++
	return p.ConnectError
}

// Enqueue implements [audio.Player]. Records the chunk.
func (p *Player) Enqueue(c audio.Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Enqueued = append(p.Enqueued, c)
}

// Add16BitPCM implements [audio.Player]. Records a chunk built from the arguments.
func (p *Player) Add16BitPCM(data []int16, streamID string) {
	p.Enqueue(audio.Chunk{StreamID: streamID, Samples: data})
}

// Interrupt implements [audio.Player]. Returns InterruptResult.
func (p *Player) Interrupt() audio.Interruption {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountInterrupt++
	return p.InterruptResult
}

// Frequencies implements [audio.Player].
func (p *Player) Frequencies() audio.Spectrum {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FrequenciesResult.Values == nil {
		return audio.EmptySpectrum()
	}
	return p.FrequenciesResult
}

// OnPlay implements [audio.Player]. The callback replaces any previous one.
func (p *Player) OnPlay(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPlay = fn
}

// OnEnded implements [audio.Player]. The callback replaces any previous one.
func (p *Player) OnEnded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = fn
}

// Close implements [audio.Player].
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	return p.CloseError
}

// TriggerPlay invokes the registered OnPlay callback, if any.
// Use this in tests to simulate the start of a playback burst.
func (p *Player) TriggerPlay() {
	p.mu.Lock()
	fn := p.onPlay
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// TriggerEnded invokes the registered OnEnded callback, if any.
func (p *Player) TriggerEnded() {
	p.mu.Lock()
	fn := p.onEnded
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// EnqueuedChunks returns a copy of the recorded chunks.
func (p *Player) EnqueuedChunks() []audio.Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audio.Chunk(nil), p.Enqueued...)
}

// PlayerCalls is a snapshot of a [Player]'s call counters.
type PlayerCalls struct {
	Connect, Interrupt, Close int
}

// Calls returns the call counters under the lock.
func (p *Player) Calls() PlayerCalls {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PlayerCalls{
		Connect:   p.CallCountConnect,
		Interrupt: p.CallCountInterrupt,
		Close:     p.CallCountClose,
	}
}
