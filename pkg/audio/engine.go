package audio

import "context"

// Recorder captures microphone audio as fixed-size PCM frames.
//
// Lifecycle: Begin → Record → Pause → Record … → End. Frames are delivered in
// strict capture order, each exactly once.
//
// Implementations must be safe for concurrent use.
type Recorder interface {
	// Begin acquires the input device and prepares a processing path. It
	// returns an error wrapping [ErrDeviceUnavailable] or [ErrInitialization]
	// on failure, after which Recording reports false.
	Begin(ctx context.Context) error

	// Record starts delivering frames to onFrame. onFrame replaces any
	// previously registered consumer and is invoked on an internal goroutine;
	// it must not block for long. Calling Record while recording only swaps
	// the consumer.
	Record(onFrame func(Frame)) error

	// Pause stops delivery. Any partially filled frame is delivered as a final
	// short frame before Pause returns. Pause while idle is a no-op.
	Pause()

	// End releases the device. Undelivered samples are discarded.
	End() error

	// Frequencies returns the current spectrum of the input signal, or
	// [EmptySpectrum] when no analyser is attached.
	Frequencies() Spectrum

	// Recording reports whether frames are currently being delivered.
	Recording() bool
}

// Player renders PCM chunks as continuous, crossfaded output.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Connect opens the output device and attaches the output analyser.
	// Returns an error wrapping [ErrDeviceUnavailable] or [ErrInitialization].
	Connect(ctx context.Context) error

	// Enqueue appends c to the playback queue. Playback starts immediately if
	// the player is idle.
	Enqueue(c Chunk)

	// Add16BitPCM wraps data in a [Chunk] tagged with streamID and enqueues it.
	Add16BitPCM(data []int16, streamID string)

	// Interrupt stops playback immediately, clears the queue, and reports
	// which stream was cut and how much of it was rendered.
	Interrupt() Interruption

	// Frequencies returns the current spectrum of the rendered output, or
	// [EmptySpectrum] when no analyser is attached.
	Frequencies() Spectrum

	// OnPlay registers the callback fired once per transition from idle to
	// playing. Subsequent calls replace the previous registration; nil clears it.
	OnPlay(fn func())

	// OnEnded registers the callback fired once per transition from playing
	// to idle that survives the grace period. Interrupt never fires it.
	// Subsequent calls replace the previous registration; nil clears it.
	OnEnded(fn func())

	// Close stops the scheduler and releases the output device. Close is
	// idempotent.
	Close() error
}
