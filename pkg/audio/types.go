package audio

import "time"

// Frame is a fixed-size block of mono 16-bit PCM produced by a [Recorder].
// Every frame delivered while recording holds exactly the configured frame
// size; the single exception is the flush frame emitted by [Recorder.Pause].
//
// Ownership of Mono transfers to the consumer on delivery. The recorder never
// reads or writes the slice again.
type Frame struct {
	// Mono holds the little-endian-agnostic int16 samples of a single channel.
	Mono []int16
}

// Chunk is a variable-length block of mono 16-bit PCM submitted to a [Player].
// Chunks are played in insertion order; StreamID and Arrived never influence
// ordering.
type Chunk struct {
	// StreamID identifies the remote response or utterance the chunk belongs to.
	StreamID string

	// Samples is the PCM payload. The player does not mutate it.
	Samples []int16

	// SampleRate of Samples in Hz. Zero means the player's own output rate.
	SampleRate int

	// Arrived is the time the chunk entered the player. Set by the player when
	// left zero.
	Arrived time.Time
}

// Duration returns the playback length of c at the given fallback rate. The
// chunk's own SampleRate takes precedence when set.
func (c Chunk) Duration(fallbackRate int) time.Duration {
	rate := c.SampleRate
	if rate <= 0 {
		rate = fallbackRate
	}
	if rate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(rate)
}

// Spectrum is a snapshot of normalised frequency magnitudes in [0, 1].
// It is recomputed on every request and never persisted.
type Spectrum struct {
	Values []float32
}

// EmptySpectrum returns the single-bin, all-zero snapshot reported by engines
// that have no analyser attached.
func EmptySpectrum() Spectrum {
	return Spectrum{Values: []float32{0}}
}

// Interruption describes what was audible when a [Player] was interrupted.
// An empty StreamID is the null identity: nothing was playing.
type Interruption struct {
	// StreamID of the chunk that was cut.
	StreamID string

	// Offset is the number of samples of StreamID rendered before the cut,
	// counted across all chunks of that stream in the current burst.
	Offset int
}

// State is the lifecycle state shared by both engines.
type State int

const (
	// StateUninitialized is the state before Begin/Connect succeeded.
	StateUninitialized State = iota

	// StateIdle means the engine holds its device but is not capturing or playing.
	StateIdle

	// StateActive means the engine is capturing (recorder) or playing (player).
	StateActive

	// StateStopped is terminal until the engine is begun or connected again.
	StateStopped
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}
